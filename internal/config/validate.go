package config

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/flemzord/sbridge/internal/cron"
	"github.com/flemzord/sbridge/internal/ledger"
	"github.com/flemzord/sbridge/internal/security"
)

var webhookIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Validate checks a defaulted Config. Every problem is reported, not just
// the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	if _, err := security.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: logging.level: %w", err))
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: logging.format must be text or json, got %q", cfg.Logging.Format))
	}

	for _, v := range []interface{ Validate() error }{
		cfg.Provider, cfg.Ledger, cfg.Poller, cfg.RateLimit,
		cfg.Broadcast, cfg.Gateway, cfg.Telemetry, cfg.AMQP,
	} {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := cron.Parser.Parse(cfg.Ledger.PurgeSchedule); cfg.Ledger.PurgeSchedule != "" && err != nil {
		errs = append(errs, fmt.Errorf("config: ledger.purge_schedule: %w", err))
	}
	if cfg.Ledger.Driver != ledger.DriverMemory && cfg.Ledger.Retention <= cfg.Poller.Lookback {
		errs = append(errs, fmt.Errorf("config: ledger.retention (%s) must exceed poller.lookback (%s)",
			cfg.Ledger.Retention, cfg.Poller.Lookback))
	}

	errs = append(errs, validateWebhooks(cfg)...)

	return errors.Join(errs...)
}

func validateWebhooks(cfg *Config) []error {
	var errs []error
	paths := make(map[string]string, len(cfg.Webhooks))

	for _, id := range WebhookIDs(cfg) {
		wc := cfg.Webhooks[id]
		if !webhookIDPattern.MatchString(id) {
			errs = append(errs, fmt.Errorf("config: webhooks: invalid instance id %q", id))
		}
		if err := wc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: webhooks.%s: %w", id, err))
		}
		if other, dup := paths[wc.Path]; dup && wc.Path != "" {
			errs = append(errs, fmt.Errorf("config: webhooks.%s: path %s already used by %s", id, wc.Path, other))
		}
		paths[wc.Path] = id
		switch wc.Path {
		case "/health", "/rpc", "/events", "/ws", "/metrics":
			errs = append(errs, fmt.Errorf("config: webhooks.%s: path %s is reserved", id, wc.Path))
		}
	}
	return errs
}
