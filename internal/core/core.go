// Package core provides the lifecycle foundation for sbridge: an ordered set
// of explicitly constructed modules that are started in order and stopped in
// reverse order.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultShutdownTimeout bounds the whole reverse-order stop sequence.
const DefaultShutdownTimeout = 30 * time.Second

// App manages the lifecycle of a set of modules.
type App struct {
	modules         []moduleInstance
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

type moduleInstance struct {
	id      ModuleID
	module  any
	started bool
}

// NewApp creates an empty App. A nil logger falls back to slog.Default().
func NewApp(logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		logger:          logger.With("component", "core"),
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

// SetShutdownTimeout overrides the stop deadline. Non-positive values are ignored.
func (a *App) SetShutdownTimeout(d time.Duration) {
	if d > 0 {
		a.shutdownTimeout = d
	}
}

// AppendModule registers a module. Modules that implement neither Starter
// nor Stopper are accepted and ignored by the lifecycle. Must be called before Start.
func (a *App) AppendModule(id ModuleID, mod any) {
	a.modules = append(a.modules, moduleInstance{id: id, module: mod})
	a.logger.Debug("module registered", "module", string(id))
}

// Modules returns the registered module IDs in start order.
func (a *App) Modules() []ModuleID {
	ids := make([]ModuleID, len(a.modules))
	for i, mi := range a.modules {
		ids[i] = mi.id
	}
	return ids
}

// Start starts all modules that implement Starter, in order.
// If any Start() fails, already-started modules are stopped in reverse order.
// Modules that only implement Stopper are marked started so that they are
// stopped on shutdown.
func (a *App) Start() error {
	for i := range a.modules {
		mi := &a.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			mi.started = true
			continue
		}
		a.logger.Info("starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			a.logger.Error("module start failed", "module", string(mi.id), "error", err)
			a.stopModules(i - 1)
			return fmt.Errorf("starting module %s: %w", mi.id, err)
		}
		mi.started = true
	}
	a.logger.Info("all modules started", "count", len(a.modules))
	return nil
}

// Stop stops all started modules in reverse order with a timeout.
func (a *App) Stop() {
	a.stopModules(len(a.modules) - 1)
}

func (a *App) stopModules(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		mi := &a.modules[i]
		if !mi.started {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			a.logger.Info("stopping module", "module", string(mi.id))
			if err := s.Stop(ctx); err != nil {
				a.logger.Error("module stop error", "module", string(mi.id), "error", err)
			}
		}
		mi.started = false
	}
}
