// Package handlers provides HTTP request handlers.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/IRCAD/sight-sub083/pkg/api/response"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/storage"
	"github.com/IRCAD/sight-sub083/pkg/version"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

const readyTimeout = 2 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	registry *registry.Registry
	workers  *worker.Manager
	store    storage.Storage
	started  time.Time
}

// NewHealthHandler creates a new health handler. store may be nil.
func NewHealthHandler(reg *registry.Registry, workers *worker.Manager, store storage.Storage) *HealthHandler {
	return &HealthHandler{
		registry: reg,
		workers:  workers,
		store:    store,
		started:  time.Now(),
	}
}

// Health handles the /health endpoint (liveness probe).
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Ready handles the /ready endpoint. The process is ready once every worker
// runs and the snapshot store answers.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := h.checks(r.Context())
	ready := true
	for _, v := range checks {
		if v != "ok" {
			ready = false
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, status, map[string]any{
		"ready":  ready,
		"checks": checks,
	})
}

func (h *HealthHandler) checks(ctx context.Context) map[string]string {
	checks := map[string]string{"registry": "ok", "workers": "ok"}
	if h.registry == nil {
		checks["registry"] = "missing"
	}
	if h.workers != nil {
		for _, st := range h.workers.Stats() {
			if !st.Running {
				checks["workers"] = "worker " + st.Name + " stopped"
				break
			}
		}
	}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(ctx, readyTimeout)
		defer cancel()
		checks["storage"] = "ok"
		if err := storage.Ping(ctx, h.store); err != nil {
			checks["storage"] = err.Error()
		}
	}
	return checks
}

// StatusResponse is the body of /status.
type StatusResponse struct {
	Version  map[string]string `json:"version"`
	Started  time.Time         `json:"started"`
	Uptime   string            `json:"uptime"`
	Services int               `json:"services"`
	Objects  int               `json:"objects"`
	Workers  int               `json:"workers"`
	Pending  string            `json:"pending_tasks"`
	Storage  string            `json:"storage,omitempty"`
}

// Status handles the /status endpoint (detailed status).
func (h *HealthHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version: version.Info(),
		Started: h.started.UTC(),
		Uptime:  humanize.RelTime(h.started, time.Now(), "", ""),
	}
	if h.registry != nil {
		resp.Services, resp.Objects = h.registry.Len()
	}
	var pending int64
	if h.workers != nil {
		stats := h.workers.Stats()
		resp.Workers = len(stats)
		for _, st := range stats {
			pending += int64(st.Pending)
		}
	}
	resp.Pending = humanize.Comma(pending)
	if b, ok := h.store.(interface{ Backend() string }); ok {
		resp.Storage = b.Backend()
	}
	response.JSON(w, http.StatusOK, resp)
}
