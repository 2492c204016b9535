package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/IRCAD/sight-sub083/pkg/storage"
	"github.com/IRCAD/sight-sub083/pkg/storage/memory"
)

type downStorage struct {
	storage.Storage
}

func (downStorage) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthHandler_Health(t *testing.T) {
	f := newFixture(t)
	handler := NewHealthHandler(f.registry, f.workers, nil)

	w := httptest.NewRecorder()
	handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Health() status = %v, want %v", w.Code, http.StatusOK)
	}
	if got := decode[map[string]string](t, w); got["status"] != "ok" {
		t.Errorf("Health() body = %v", got)
	}
}

func TestHealthHandler_Ready(t *testing.T) {
	f := newFixture(t)
	handler := NewHealthHandler(f.registry, f.workers, storage.Instrument(memory.NewMemoryStorage(), "memory"))

	w := httptest.NewRecorder()
	handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Ready() status = %v, want %v: %s", w.Code, http.StatusOK, w.Body.String())
	}
	body := decode[struct {
		Ready  bool              `json:"ready"`
		Checks map[string]string `json:"checks"`
	}](t, w)
	if !body.Ready || body.Checks["storage"] != "ok" {
		t.Errorf("Ready() body = %+v", body)
	}
}

func TestHealthHandler_NotReady(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *fixture) *HealthHandler
		check string
	}{
		{
			name: "stopped worker",
			setup: func(f *fixture) *HealthHandler {
				_ = f.workers.Get("render").StopAndWait(context.Background())
				return NewHealthHandler(f.registry, f.workers, nil)
			},
			check: "workers",
		},
		{
			name: "storage down",
			setup: func(f *fixture) *HealthHandler {
				return NewHealthHandler(f.registry, f.workers, downStorage{})
			},
			check: "storage",
		},
		{
			name: "no registry",
			setup: func(f *fixture) *HealthHandler {
				return NewHealthHandler(nil, f.workers, nil)
			},
			check: "registry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := tt.setup(newFixture(t))

			w := httptest.NewRecorder()
			handler.Ready(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if w.Code != http.StatusServiceUnavailable {
				t.Fatalf("Ready() status = %v, want %v", w.Code, http.StatusServiceUnavailable)
			}
			body := decode[struct {
				Ready  bool              `json:"ready"`
				Checks map[string]string `json:"checks"`
			}](t, w)
			if body.Ready || body.Checks[tt.check] == "ok" {
				t.Errorf("Ready() body = %+v, want failing %s check", body, tt.check)
			}
		})
	}
}

func TestHealthHandler_Status(t *testing.T) {
	f := newFixture(t)
	handler := NewHealthHandler(f.registry, f.workers, storage.Instrument(memory.NewMemoryStorage(), "memory"))

	w := httptest.NewRecorder()
	handler.Status(w, httptest.NewRequest(http.MethodGet, "/status", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Status() status = %v, want %v", w.Code, http.StatusOK)
	}
	status := decode[StatusResponse](t, w)
	if status.Services != 2 || status.Objects != 1 {
		t.Errorf("Status() services=%d objects=%d, want 2 and 1", status.Services, status.Objects)
	}
	if status.Workers != 1 {
		t.Errorf("Status() workers = %d, want 1", status.Workers)
	}
	if status.Storage != "memory" {
		t.Errorf("Status() storage = %q, want memory", status.Storage)
	}
	if status.Version["version"] == "" || status.Uptime == "" || status.Pending != "0" {
		t.Errorf("Status() = %+v", status)
	}
}
