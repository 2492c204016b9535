package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	"github.com/IRCAD/sight-sub083/pkg/api/response"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// WorkerHandler exposes worker statistics.
type WorkerHandler struct {
	workers *worker.Manager
}

// NewWorkerHandler creates a worker handler.
func NewWorkerHandler(workers *worker.Manager) *WorkerHandler {
	return &WorkerHandler{workers: workers}
}

// List handles GET /api/v1/workers.
func (h *WorkerHandler) List(w http.ResponseWriter, r *http.Request) {
	stats := h.workers.Stats()
	response.JSON(w, http.StatusOK, map[string]any{
		"workers": stats,
		"total":   len(stats),
	})
}

// Get handles GET /api/v1/workers/{name}.
func (h *WorkerHandler) Get(w http.ResponseWriter, r *http.Request) {
	wk, err := h.workers.Lookup(chi.URLParam(r, "name"))
	if err != nil {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, err.Error(), middleware.GetRequestID(r.Context()))
		return
	}
	response.JSON(w, http.StatusOK, wk.Stats())
}
