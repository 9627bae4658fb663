package core

import "context"

// ModuleID names a module in logs and errors (e.g. "poller", "gateway.http").
type ModuleID string

// Starter is implemented by modules that need to start background work
// (goroutines, listeners, connections). Called in registration order.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules that need to clean up resources.
// Called during shutdown in reverse order of Start().
type Stopper interface {
	Stop(ctx context.Context) error
}

// StopFunc adapts a plain function to Stopper.
type StopFunc func(ctx context.Context) error

// Stop implements Stopper.
func (f StopFunc) Stop(ctx context.Context) error { return f(ctx) }
