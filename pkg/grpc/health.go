package grpc

import (
	"context"
	"sort"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// Probe checks one component. A nil error means serving.
type Probe func(ctx context.Context) error

const probeTimeout = 2 * time.Second

// HealthServer serves the standard gRPC health protocol from component
// probes. Each probe is reported under its own service name and the empty
// service name aggregates all of them.
type HealthServer struct {
	server *health.Server
	log    logger.Logger

	mu     sync.Mutex
	probes map[string]Probe
	failed map[string]string
}

// NewHealthServer creates a health server reporting NOT_SERVING until the
// first probe round.
func NewHealthServer(log logger.Logger) *HealthServer {
	h := &HealthServer{
		server: health.NewServer(),
		log:    logger.OrComponent(log, "grpc.health"),
		probes: make(map[string]Probe),
		failed: make(map[string]string),
	}
	h.server.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	return h
}

// AddProbe registers probe under service.
func (h *HealthServer) AddProbe(service string, probe Probe) {
	h.mu.Lock()
	h.probes[service] = probe
	h.mu.Unlock()
	h.server.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Services returns the probed service names, sorted.
func (h *HealthServer) Services() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every probe once and publishes the statuses. It reports
// whether all of them passed.
func (h *HealthServer) Check(ctx context.Context) bool {
	h.mu.Lock()
	probes := make(map[string]Probe, len(h.probes))
	for name, p := range h.probes {
		probes[name] = p
	}
	h.mu.Unlock()

	serving := true
	for name, probe := range probes {
		pctx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := probe(pctx)
		cancel()

		st := grpc_health_v1.HealthCheckResponse_SERVING
		if err != nil {
			st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			serving = false
		}
		h.report(name, err)
		h.server.SetServingStatus(name, st)
	}

	overall := grpc_health_v1.HealthCheckResponse_SERVING
	if !serving {
		overall = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	h.server.SetServingStatus("", overall)
	return serving
}

// report logs status transitions only.
func (h *HealthServer) report(name string, err error) {
	h.mu.Lock()
	prev, wasFailing := h.failed[name]
	if err != nil {
		h.failed[name] = err.Error()
	} else {
		delete(h.failed, name)
	}
	h.mu.Unlock()

	switch {
	case err != nil && (!wasFailing || prev != err.Error()):
		h.log.Warn("Health probe failing", "service", name, "error", err)
	case err == nil && wasFailing:
		h.log.Info("Health probe recovered", "service", name)
	}
}

// Run probes every interval until ctx ends.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	h.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Check(ctx)
		}
	}
}

// Shutdown sets every service to NOT_SERVING and ignores later updates.
func (h *HealthServer) Shutdown() {
	h.server.Shutdown()
}

// Resume undoes Shutdown and sets every service to SERVING.
func (h *HealthServer) Resume() {
	h.server.Resume()
}

// GetServer returns the underlying health server for registration
func (h *HealthServer) GetServer() *health.Server {
	return h.server
}
