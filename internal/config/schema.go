// Package config handles YAML configuration loading, environment variable
// expansion, and validation for sbridge.
package config

import (
	"os"
	"path/filepath"

	"github.com/flemzord/sbridge/internal/broadcast"
	"github.com/flemzord/sbridge/internal/gateway"
	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/poller"
	"github.com/flemzord/sbridge/internal/security"
	"github.com/flemzord/sbridge/internal/telemetry"
	"github.com/flemzord/sbridge/internal/webhook"
	"github.com/flemzord/sbridge/modules/provider/sendblue"
	"github.com/flemzord/sbridge/modules/sink/amqp"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds the SQLite ledger. Defaults to $XDG_DATA_HOME/sbridge.
	DataDir string `yaml:"data_dir"`

	Logging   LoggingConfig             `yaml:"logging"`
	Provider  sendblue.Config           `yaml:"provider"`
	Ledger    ledger.Config             `yaml:"ledger"`
	Poller    poller.Config             `yaml:"poller"`
	Webhooks  map[string]webhook.Config `yaml:"webhooks"`
	RateLimit security.RateLimitConfig  `yaml:"ratelimit"`
	Broadcast broadcast.Config          `yaml:"broadcast"`
	Gateway   gateway.Config            `yaml:"gateway"`
	Telemetry telemetry.Config          `yaml:"telemetry"`
	AMQP      amqp.Config               `yaml:"amqp"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// WithDefaults returns a copy of c with every component's defaults applied.
// Webhook instances are defaulted with their own id.
func (c Config) WithDefaults() Config {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	c.Provider = c.Provider.WithDefaults()
	c.Ledger = c.Ledger.WithDefaults()
	if c.Ledger.Driver == ledger.DriverSQLite && c.Ledger.Path == "" {
		c.Ledger.Path = filepath.Join(c.DataDir, "ledger.db")
	}
	c.Poller = c.Poller.WithDefaults()
	if len(c.Webhooks) > 0 {
		hooks := make(map[string]webhook.Config, len(c.Webhooks))
		for id, wc := range c.Webhooks {
			hooks[id] = wc.WithDefaults(id)
		}
		c.Webhooks = hooks
	}
	c.RateLimit = c.RateLimit.WithDefaults()
	c.Broadcast = c.Broadcast.WithDefaults()
	c.Gateway = c.Gateway.WithDefaults()
	c.Telemetry = c.Telemetry.WithDefaults()
	if c.AMQP.Enabled() {
		c.AMQP = c.AMQP.WithDefaults()
	}
	return c
}

// Secrets returns every configured credential, for log redaction.
func (c Config) Secrets() []string {
	secrets := []string{c.Provider.APIKey, c.Provider.APISecret, c.Gateway.Auth.BearerToken, c.Ledger.DSN, c.AMQP.URL}
	for _, id := range WebhookIDs(&c) {
		secrets = append(secrets, c.Webhooks[id].Secret)
	}
	out := secrets[:0]
	for _, s := range secrets {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DefaultDataDir returns $XDG_DATA_HOME/sbridge, falling back to
// ~/.local/share/sbridge and finally ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "sbridge")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "sbridge")
	}
	return "data"
}
