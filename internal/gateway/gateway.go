// Package gateway provides the HTTP server for health, webhooks, commands,
// event streams and metrics. It binds to loopback by default.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// Webhook is one ingestor mounted at its own path.
type Webhook interface {
	http.Handler
	ID() string
	Path() string
	Wait(ctx context.Context) error
}

// Deps holds the handlers the gateway mounts. Nil handlers are not mounted.
type Deps struct {
	Webhooks  []Webhook
	RPC       http.Handler
	Events    http.Handler
	WebSocket http.Handler
	Metrics   http.Handler
	Logger    *slog.Logger
}

// Gateway is the HTTP gateway module.
type Gateway struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New creates a gateway. The server is not started until Start.
func New(cfg Config, deps Deps) *Gateway {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:    cfg.WithDefaults(),
		deps:   deps,
		logger: logger.With("component", "gateway"),
	}
}

// Handler returns the routed handler without starting a listener.
func (g *Gateway) Handler() http.Handler {
	return g.buildRouter()
}

// Addr returns the bound address once started, or nil.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.addr
}

// Start implements core.Starter. It binds synchronously so address errors
// surface at boot, then serves in the background.
func (g *Gateway) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.server != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.cfg.Bind)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", g.cfg.Bind, err)
	}

	g.server = &http.Server{
		Handler:      g.buildRouter(),
		ReadTimeout:  g.cfg.ReadTimeout,
		WriteTimeout: g.cfg.WriteTimeout,
		ErrorLog:     slog.NewLogLogger(g.logger.Handler(), slog.LevelWarn),
	}
	g.addr = ln.Addr()

	srv := g.server
	go func() {
		g.logger.Info("gateway listening", "addr", ln.Addr().String(), "server_id", g.cfg.ServerID)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop implements core.Stopper. It stops accepting requests, then waits for
// accepted webhook payloads to finish processing.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	srv := g.server
	g.mu.Unlock()
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.cfg.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		// Long-lived streams may still be open; cut them.
		err = srv.Close()
	}

	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("gateway: shutdown: %w", err))
	}
	for _, w := range g.deps.Webhooks {
		if werr := w.Wait(shutdownCtx); werr != nil {
			g.logger.Warn("dropping in-flight webhook payloads", "instance", w.ID(), "error", werr)
		}
	}
	return errors.Join(errs...)
}
