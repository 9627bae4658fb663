package webhook

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultMaxBodyBytes   = 1 << 20
	defaultProcessTimeout = 30 * time.Second
)

// Config holds the settings of one ingestor instance.
type Config struct {
	// Path is the only path this instance answers on.
	Path string `yaml:"path"`

	// Secret, when set, must be presented in one of the accepted headers.
	Secret string `yaml:"secret"`

	// MaxBodyBytes is the request body ceiling.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ProcessTimeout bounds the asynchronous processing of one payload.
	ProcessTimeout time.Duration `yaml:"process_timeout"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
// An empty path defaults to /webhook/<id>.
func (c Config) WithDefaults(id string) Config {
	if c.Path == "" {
		c.Path = "/webhook/" + id
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = defaultProcessTimeout
	}
	return c
}

// Validate checks the path shape and limits.
func (c Config) Validate() error {
	var errs []error
	if c.Path != "" && !strings.HasPrefix(c.Path, "/") {
		errs = append(errs, fmt.Errorf("webhook: path %q must start with /", c.Path))
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("webhook: max_body_bytes must be non-negative, got %d", c.MaxBodyBytes))
	}
	return errors.Join(errs...)
}
