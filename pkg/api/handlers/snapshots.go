package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	"github.com/IRCAD/sight-sub083/pkg/api/models"
	"github.com/IRCAD/sight-sub083/pkg/api/response"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/storage"
)

const defaultSnapshotLimit = 20

// SnapshotHandler captures registered objects and serves stored snapshots.
type SnapshotHandler struct {
	registry  *registry.Registry
	store     storage.Storage
	logger    logger.Logger
	validator *validator.Validate
}

// NewSnapshotHandler creates a snapshot handler.
func NewSnapshotHandler(reg *registry.Registry, store storage.Storage, log logger.Logger) *SnapshotHandler {
	return &SnapshotHandler{
		registry:  reg,
		store:     store,
		logger:    logger.OrComponent(log, "api"),
		validator: validator.New(),
	}
}

// Create handles POST /api/v1/snapshots.
func (h *SnapshotHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.CreateSnapshotRequest
	if err := response.Decode(r, &req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "Invalid request body", requestID)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	obj, ok := h.registry.Object(req.ObjectID)
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "object not registered", requestID)
		return
	}

	rec, err := storage.Capture(ctx, obj, req.Labels)
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to capture snapshot", "object", req.ObjectID, "error", err)
		writeContextError(w, err, requestID)
		return
	}
	if err := h.store.SaveSnapshot(ctx, rec); err != nil {
		h.logger.ErrorContext(ctx, "Failed to save snapshot", "object", req.ObjectID, "error", err)
		h.writeStoreError(w, err, requestID)
		return
	}

	h.logger.InfoContext(ctx, "Snapshot created", "id", rec.ID, "object", rec.ObjectID, "hash", rec.Hash)
	w.Header().Set("Location", "/api/v1/snapshots/"+rec.ID)
	response.JSON(w, http.StatusCreated, toSnapshotResponse(rec, false))
}

// List handles GET /api/v1/snapshots.
func (h *SnapshotHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	q := r.URL.Query()
	query := models.SnapshotQuery{
		ObjectID: q.Get("object_id"),
		Class:    q.Get("class"),
		Limit:    defaultSnapshotLimit,
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid limit", requestID)
			return
		}
		query.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.ErrCodeBadRequest, "invalid offset", requestID)
			return
		}
		query.Offset = offset
	}
	if err := h.validator.Struct(&query); err != nil {
		response.Error(w, http.StatusBadRequest, response.ErrCodeValidationFailed, err.Error(), requestID)
		return
	}

	records, total, err := h.store.ListSnapshots(ctx, query.Filter())
	if err != nil {
		h.logger.ErrorContext(ctx, "Failed to list snapshots", "error", err)
		h.writeStoreError(w, err, requestID)
		return
	}

	resp := models.SnapshotListResponse{
		Snapshots: make([]models.SnapshotResponse, 0, len(records)),
		Total:     total,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	for _, rec := range records {
		resp.Snapshots = append(resp.Snapshots, toSnapshotResponse(rec, false))
	}
	response.JSON(w, http.StatusOK, resp)
}

// Get handles GET /api/v1/snapshots/{id}. The rendered tree is included.
func (h *SnapshotHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := h.store.GetSnapshot(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err, middleware.GetRequestID(ctx))
		return
	}
	response.JSON(w, http.StatusOK, toSnapshotResponse(rec, true))
}

// Delete handles DELETE /api/v1/snapshots/{id}.
func (h *SnapshotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := h.store.DeleteSnapshot(ctx, id); err != nil {
		h.writeStoreError(w, err, middleware.GetRequestID(ctx))
		return
	}
	h.logger.InfoContext(ctx, "Snapshot deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *SnapshotHandler) writeStoreError(w http.ResponseWriter, err error, requestID string) {
	var unavailable *storage.StorageUnavailableError
	switch {
	case storage.IsNotFound(err):
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, err.Error(), requestID)
	case errors.As(err, &unavailable):
		response.Error(w, http.StatusServiceUnavailable, response.ErrCodeServiceUnavailable, err.Error(), requestID)
	default:
		writeContextError(w, err, requestID)
	}
}

func toSnapshotResponse(rec *storage.SnapshotRecord, withTree bool) models.SnapshotResponse {
	resp := models.SnapshotResponse{
		ID:        rec.ID,
		ObjectID:  rec.ObjectID,
		Class:     rec.Class,
		Hash:      rec.Hash,
		Labels:    rec.Labels,
		Size:      humanize.IBytes(uint64(len(rec.Tree))),
		CreatedAt: rec.CreatedAt,
	}
	if withTree {
		resp.Tree = rec.Tree
	}
	return resp
}
