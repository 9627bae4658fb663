package amqp

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds the AMQP sink settings. The sink is disabled when URL is empty.
type Config struct {
	URL            string        `yaml:"url"`
	Exchange       string        `yaml:"exchange"`
	RoutingKey     string        `yaml:"routing_key"`
	Buffer         int           `yaml:"buffer"`
	DialAttempts   int           `yaml:"dial_attempts"`
	DialDelay      time.Duration `yaml:"dial_delay"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// Enabled reports whether a broker URL is configured.
func (c Config) Enabled() bool { return c.URL != "" }

// WithDefaults returns a copy of c with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.Exchange == "" {
		c.Exchange = "sbridge.events"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "message.inbound"
	}
	if c.Buffer <= 0 {
		c.Buffer = 256
	}
	if c.DialAttempts <= 0 {
		c.DialAttempts = 5
	}
	if c.DialDelay <= 0 {
		c.DialDelay = time.Second
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	return c
}

// Validate checks the broker URL scheme.
func (c Config) Validate() error {
	if c.URL == "" {
		return nil
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("amqp: invalid url: %w", err)
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return errors.New("amqp: url scheme must be amqp or amqps")
	}
	return nil
}
