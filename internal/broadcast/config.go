package broadcast

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultHeartbeat    = 30 * time.Second
	defaultBuffer       = 64
	defaultWriteTimeout = 10 * time.Second
)

// Config holds broadcaster settings.
type Config struct {
	// Heartbeat is the keep-alive interval.
	Heartbeat time.Duration `yaml:"heartbeat"`

	// Buffer is the per-subscriber queue length. A subscriber whose queue
	// is full when an event is published is pruned.
	Buffer int `yaml:"buffer"`

	// WriteTimeout bounds one write to one subscriber.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxSubscribers caps live connections. Zero means unlimited.
	MaxSubscribers int `yaml:"max_subscribers"`
}

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.Buffer <= 0 {
		c.Buffer = defaultBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	return c
}

// Validate rejects negative values.
func (c Config) Validate() error {
	var errs []error
	if c.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("broadcast: heartbeat must be non-negative, got %s", c.Heartbeat))
	}
	if c.Buffer < 0 {
		errs = append(errs, fmt.Errorf("broadcast: buffer must be non-negative, got %d", c.Buffer))
	}
	if c.MaxSubscribers < 0 {
		errs = append(errs, fmt.Errorf("broadcast: max_subscribers must be non-negative, got %d", c.MaxSubscribers))
	}
	return errors.Join(errs...)
}
