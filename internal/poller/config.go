package poller

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultInterval     = 5 * time.Second
	defaultLookback     = 5 * time.Minute
	defaultCycleTimeout = 30 * time.Second
	minInterval         = 100 * time.Millisecond
)

// Config holds poller settings.
type Config struct {
	// Interval is the delay between cycles.
	Interval time.Duration `yaml:"interval"`

	// Lookback sets the initial cursor to now minus Lookback, so messages
	// received while the bridge was down are recovered.
	Lookback time.Duration `yaml:"lookback"`

	// CycleTimeout bounds one fetch-and-process cycle.
	CycleTimeout time.Duration `yaml:"cycle_timeout"`

	// Autostart starts polling at boot instead of waiting for watch.subscribe.
	Autostart bool `yaml:"autostart"`

	// AllowNumbers restricts delivery to these senders. Empty allows all.
	AllowNumbers []string `yaml:"allow_numbers"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.Lookback == 0 {
		c.Lookback = defaultLookback
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = defaultCycleTimeout
	}
	return c
}

// Validate checks interval bounds.
func (c Config) Validate() error {
	var errs []error
	if c.Interval != 0 && c.Interval < minInterval {
		errs = append(errs, fmt.Errorf("poller: interval must be at least %s, got %s", minInterval, c.Interval))
	}
	if c.Lookback < 0 {
		errs = append(errs, fmt.Errorf("poller: lookback must be non-negative, got %s", c.Lookback))
	}
	return errors.Join(errs...)
}
