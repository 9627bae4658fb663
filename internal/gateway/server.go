package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	// Public: no auth required.
	r.Get("/health", g.handleHealth())
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics)
	}

	// Webhooks carry their own shared-secret check. Every method is routed
	// to the ingestor so it can answer 404 itself.
	for _, in := range g.deps.Webhooks {
		r.Handle(in.Path(), in)
	}

	r.Group(func(r chi.Router) {
		if g.cfg.Auth.IsConfigured() {
			r.Use(authMiddleware(g.cfg.Auth, g.logger))
		}
		if g.deps.RPC != nil {
			r.Handle("/rpc", g.deps.RPC)
		}
		if g.deps.Events != nil {
			r.Handle("/events", g.deps.Events)
		}
		if g.deps.WebSocket != nil {
			r.Handle("/ws", g.deps.WebSocket)
		}
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	return r
}
