package reload

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/inbound"
	"github.com/flemzord/sbridge/internal/security"
)

// AllowListSetter swaps the sender allow-list of a live processor.
type AllowListSetter interface {
	SetAllowList(*inbound.AllowList)
}

// Targets are the live components that accept new settings without a
// restart. Nil targets are skipped.
type Targets struct {
	Limiter   *security.RateLimiter
	Processor AllowListSetter
	Redactor  *security.Redactor
}

// Handler reloads configuration and applies it to the live components.
type Handler struct {
	targets Targets
	logger  *slog.Logger

	// running are the secrets the process booted with. Secret changes only
	// take effect on restart, so these stay redacted until then.
	running []string

	mu      sync.Mutex
	current config.Config
}

// NewHandler creates a reload handler. current is the defaulted config the
// process booted with; it is the baseline for detecting restart-only changes.
func NewHandler(current config.Config, targets Targets, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		targets: targets,
		logger:  logger.With("component", "reload"),
		current: current,
		running: current.Secrets(),
	}
}

// HandleReload loads a fresh config from disk, validates it and applies it.
// The running config is left untouched when loading or validation fails.
func (h *Handler) HandleReload(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	defaulted := cfg.WithDefaults()
	if err := config.Validate(&defaulted); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return h.Apply(ctx, defaulted)
}

// Apply pushes an already defaulted and validated config to the targets.
func (h *Handler) Apply(ctx context.Context, cfg config.Config) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before reload: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if t := h.targets.Redactor; t != nil {
		t.SetLiterals(append(slices.Clone(h.running), cfg.Secrets()...)...)
	}
	if t := h.targets.Limiter; t != nil {
		t.SetConfig(cfg.RateLimit)
	}
	if t := h.targets.Processor; t != nil {
		t.SetAllowList(inbound.NewAllowList(cfg.Poller.AllowNumbers))
	}

	if changed := RestartRequired(h.current, cfg); len(changed) > 0 {
		h.logger.Warn("configuration changes need a restart to take effect", "fields", changed)
	}
	h.current = cfg

	h.logger.Info("configuration reloaded",
		"ratelimit_window", cfg.RateLimit.Window,
		"ratelimit_max_requests", cfg.RateLimit.MaxRequests,
		"allow_numbers", len(cfg.Poller.AllowNumbers),
	)
	return nil
}

// Current returns the last applied config.
func (h *Handler) Current() config.Config {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// RestartRequired lists the settings that differ between old and next and
// are only read at boot.
func RestartRequired(old, next config.Config) []string {
	var changed []string
	check := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			changed = append(changed, name)
		}
	}
	check("gateway", old.Gateway, next.Gateway)
	check("ledger", old.Ledger, next.Ledger)
	check("webhooks", old.Webhooks, next.Webhooks)
	check("provider", old.Provider, next.Provider)
	check("poller.interval", old.Poller.Interval, next.Poller.Interval)
	check("broadcast", old.Broadcast, next.Broadcast)
	check("telemetry", old.Telemetry, next.Telemetry)
	check("amqp", old.AMQP, next.AMQP)
	check("logging", old.Logging, next.Logging)
	return changed
}
