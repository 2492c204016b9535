package handlers

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/IRCAD/sight-sub083/pkg/api/middleware"
	"github.com/IRCAD/sight-sub083/pkg/api/response"
	"github.com/IRCAD/sight-sub083/pkg/data/dump"
	"github.com/IRCAD/sight-sub083/pkg/registry"
)

// RegistryHandler exposes the registry content.
type RegistryHandler struct {
	registry *registry.Registry
}

// NewRegistryHandler creates a registry handler.
func NewRegistryHandler(reg *registry.Registry) *RegistryHandler {
	return &RegistryHandler{registry: reg}
}

// Snapshot handles GET /api/v1/registry.
func (h *RegistryHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, h.registry.Snapshot())
}

// ListServices handles GET /api/v1/registry/services. The optional
// classname query parameter narrows the result.
func (h *RegistryHandler) ListServices(w http.ResponseWriter, r *http.Request) {
	var services []registry.Service
	if classname := r.URL.Query().Get("classname"); classname != "" {
		services = h.registry.ServicesByClassname(classname)
	} else {
		services = h.registry.Services()
	}

	infos := make([]registry.ServiceInfo, 0, len(services))
	for _, svc := range services {
		infos = append(infos, h.serviceInfo(svc))
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"services": infos,
		"total":    len(infos),
	})
}

// GetService handles GET /api/v1/registry/services/{id}.
func (h *RegistryHandler) GetService(w http.ResponseWriter, r *http.Request) {
	svc, ok := h.registry.Service(chi.URLParam(r, "id"))
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "service not found", middleware.GetRequestID(r.Context()))
		return
	}
	response.JSON(w, http.StatusOK, h.serviceInfo(svc))
}

func (h *RegistryHandler) serviceInfo(svc registry.Service) registry.ServiceInfo {
	info := registry.ServiceInfo{ID: svc.ID(), Classname: svc.Classname()}
	for name, obj := range h.registry.Outputs(svc) {
		if info.Outputs == nil {
			info.Outputs = make(map[string]string)
		}
		info.Outputs[name] = obj.ID()
	}
	return info
}

// ObjectResponse is the body of GET /api/v1/registry/objects/{id}.
type ObjectResponse struct {
	ID        string         `json:"id"`
	Classname string         `json:"classname"`
	Services  []string       `json:"services"`
	Tree      map[string]any `json:"tree"`
}

// GetObject handles GET /api/v1/registry/objects/{id}. The object graph is
// rendered under its recursive lock.
func (h *RegistryHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	obj, ok := h.registry.Object(chi.URLParam(r, "id"))
	if !ok {
		response.Error(w, http.StatusNotFound, response.ErrCodeNotFound, "object not found", requestID)
		return
	}

	tree, err := dump.SnapshotContext(r.Context(), obj)
	if err != nil {
		writeContextError(w, err, requestID)
		return
	}

	services := []string{}
	for _, svc := range h.registry.ServicesAttachedTo(obj) {
		services = append(services, svc.ID())
	}
	sort.Strings(services)
	response.JSON(w, http.StatusOK, ObjectResponse{
		ID:        obj.ID(),
		Classname: obj.Classname(),
		Services:  services,
		Tree:      tree,
	})
}
