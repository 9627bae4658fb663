// Package app provides the entry point shared by the sbridge commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flemzord/sbridge/internal/config"
	"github.com/flemzord/sbridge/internal/reload"
)

const (
	// shutdownSlack is added to gateway.shutdown_timeout for the whole
	// reverse-order stop sequence.
	shutdownSlack = 5 * time.Second

	// forceExitGrace is added to gateway.shutdown_timeout before a hung
	// shutdown is abandoned.
	forceExitGrace = 10 * time.Second
)

// exit is replaced in tests.
var exit = os.Exit

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, config.Find searches the standard locations.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// LogLevel overrides logging.level when non-empty.
	LogLevel string

	// Output receives log records. Defaults to os.Stderr.
	Output io.Writer
}

// LoadConfig resolves, loads, defaults and validates the configuration.
// It returns the config path that was used.
func LoadConfig(explicit, logLevel string) (config.Config, string, error) {
	path, err := config.Find(explicit)
	if err != nil {
		return config.Config{}, "", err
	}
	raw, err := config.Load(path)
	if err != nil {
		return config.Config{}, path, err
	}
	cfg := raw.WithDefaults()
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := config.Validate(&cfg); err != nil {
		return config.Config{}, path, err
	}
	return cfg, path, nil
}

// Run loads configuration, starts all modules, and blocks until ctx is
// cancelled or a shutdown signal is received. SIGHUP and config file
// changes trigger a live reload of the settings that support it.
func Run(ctx context.Context, params RunParams) (err error) {
	cfg, cfgPath, err := LoadConfig(params.ConfigPath, params.LogLevel)
	if err != nil {
		return err
	}

	bridge, err := Wire(ctx, cfg, WireParams{Version: params.Version, Output: params.Output})
	if err != nil {
		return err
	}
	logger := bridge.Logger
	logger.Info("starting sbridge",
		"version", params.Version,
		"commit", params.Commit,
		"config", cfgPath,
		"bind", cfg.Gateway.Bind,
		"modules", bridge.App.Modules(),
	)

	if err := bridge.App.Start(); err != nil {
		return err
	}

	stopped := false
	shutdown := func(reason string) {
		if stopped {
			return
		}
		stopped = true
		logger.Info("shutting down", "reason", reason)
		timer := time.AfterFunc(cfg.Gateway.ShutdownTimeout+forceExitGrace, func() {
			logger.Error("graceful shutdown timed out, forcing exit")
			exit(1)
		})
		defer timer.Stop()
		bridge.App.Stop()
		logger.Info("shutdown complete")
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in main loop", "panic", r)
			shutdown("panic")
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	// The reload baseline keeps the file's logging level so a --log-level
	// override is not reported as a pending change.
	baseline := cfg
	if params.LogLevel != "" {
		if raw, lerr := config.Load(cfgPath); lerr == nil {
			baseline.Logging = raw.WithDefaults().Logging
		}
	}
	handler := reload.NewHandler(baseline, reload.Targets{
		Limiter:   bridge.Limiter,
		Processor: bridge.Processor,
		Redactor:  bridge.Redactor,
	}, logger)

	// --- signal handling ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	// --- file watcher ---
	watcher := reload.NewWatcher(reload.WatcherConfig{
		ConfigPath: cfgPath,
		Logger:     logger,
	})
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if werr := watcher.Start(watchCtx); werr != nil {
		logger.Warn("config watcher unavailable, reload with SIGHUP", "error", werr)
	}
	defer watcher.Stop()

	// --- main event loop ---
	for {
		select {
		case <-ctx.Done():
			shutdown("context done")
			return nil
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				logger.Info("SIGHUP received, reloading configuration")
				reloadConfig(watchCtx, logger, handler, cfgPath)
				continue
			}
			shutdown(sig.String())
			return nil
		case evt := <-watcher.Events():
			logger.Info("config file changed, reloading", "path", evt.ConfigPath)
			reloadConfig(watchCtx, logger, handler, cfgPath)
		}
	}
}

func reloadConfig(ctx context.Context, logger *slog.Logger, handler *reload.Handler, path string) {
	if err := handler.HandleReload(ctx, path); err != nil {
		logger.Error("reload failed, keeping current configuration", "error", err)
	}
}
