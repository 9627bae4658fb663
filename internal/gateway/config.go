package gateway

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	ServerID        string        `yaml:"server_id"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8787"
	}
	if c.ServerID == "" {
		c.ServerID = "sbridge"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return c
}

// Validate checks the bind address.
func (c Config) Validate() error {
	var errs []error
	if c.Bind != "" {
		if _, err := net.ResolveTCPAddr("tcp", c.Bind); err != nil {
			errs = append(errs, fmt.Errorf("gateway: invalid bind address %q: %w", c.Bind, err))
		}
	}
	if c.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("gateway: shutdown_timeout must be non-negative"))
	}
	return errors.Join(errs...)
}

// AuthConfig configures authentication for the command and event endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
}

// IsConfigured returns true if a token is set.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != ""
}
