// Package api serves the debug and introspection HTTP surface: registry and
// worker state, object snapshots, a live registry event stream and metrics.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/api/handlers"
	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Handlers holds all HTTP handlers. Nil handlers leave their routes out.
type Handlers struct {
	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Registry exposes services and objects
	Registry *handlers.RegistryHandler

	// Workers exposes worker statistics
	Workers *handlers.WorkerHandler

	// Snapshots captures and serves object snapshots
	Snapshots *handlers.SnapshotHandler

	// WebSocket streams registry events
	WebSocket *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder

	// MetricsHandler serves the Prometheus scrape endpoint
	MetricsHandler http.Handler

	// RateLimiter throttles snapshot creation when set
	RateLimiter *middleware.RateLimiter
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, h *Handlers) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))
	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}
	if h.Metrics != nil {
		r.Use(middleware.Metrics(h.Metrics))
	}
	r.Use(middleware.CORS(&cfg.Server.CORS))

	RegisterRoutes(r, cfg, h)
	return r
}

// RegisterRoutes registers all API routes.
func RegisterRoutes(r chi.Router, cfg *config.Config, h *Handlers) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.Server.HTTP.RequestTimeout))

		if h.Registry != nil {
			r.Route("/registry", func(r chi.Router) {
				r.Get("/", h.Registry.Snapshot)
				r.Get("/services", h.Registry.ListServices)
				r.Get("/services/{id}", h.Registry.GetService)
				r.Get("/objects/{id}", h.Registry.GetObject)
			})
		}

		if h.Workers != nil {
			r.Get("/workers", h.Workers.List)
			r.Get("/workers/{name}", h.Workers.Get)
		}

		if h.Snapshots != nil {
			r.Route("/snapshots", func(r chi.Router) {
				r.With(rateLimited(h.RateLimiter)...).Post("/", h.Snapshots.Create)
				r.Get("/", h.Snapshots.List)
				r.Get("/{id}", h.Snapshots.Get)
				r.Delete("/{id}", h.Snapshots.Delete)
			})
		}
	})

	if h.Health != nil {
		r.Get("/health", h.Health.Health)
		r.Get("/ready", h.Health.Ready)
		r.Get("/status", h.Health.Status)
	}

	// The event stream hijacks the connection, so it stays outside the
	// buffering timeout middleware.
	if h.WebSocket != nil {
		r.Get("/ws/registry", h.WebSocket.ServeHTTP)
	}

	if h.MetricsHandler != nil {
		r.Handle("/metrics", h.MetricsHandler)
	}
}

func rateLimited(rl *middleware.RateLimiter) []func(http.Handler) http.Handler {
	if rl == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{middleware.RateLimit(rl)}
}
