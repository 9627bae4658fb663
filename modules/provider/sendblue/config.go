package sendblue

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	defaultBaseURL   = "https://api.sendblue.co"
	defaultTimeout   = 15 * time.Second
	defaultPageLimit = 100
)

// Config holds the Sendblue account settings.
type Config struct {
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	APISecret  string        `yaml:"api_secret"`
	FromNumber string        `yaml:"from_number"`
	Timeout    time.Duration `yaml:"timeout"`

	// PageLimit is the number of messages requested per list call.
	PageLimit int `yaml:"page_limit"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PageLimit <= 0 {
		c.PageLimit = defaultPageLimit
	}
	return c
}

// Validate checks credentials and the base URL.
func (c Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("sendblue: api_key is required"))
	}
	if c.APISecret == "" {
		errs = append(errs, errors.New("sendblue: api_secret is required"))
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Errorf("sendblue: base_url must be a valid http/https URL, got %q", c.BaseURL))
		}
	}
	return errors.Join(errs...)
}
