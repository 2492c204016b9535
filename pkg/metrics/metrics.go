// Package metrics provides Prometheus instrumentation for the messaging core.
//
// The Manager implements the MetricsRecorder interfaces of the worker, com,
// registry, lock and storage packages; Install plugs it into all of them.
package metrics

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IRCAD/sight-sub083/pkg/com"
	"github.com/IRCAD/sight-sub083/pkg/lock"
	"github.com/IRCAD/sight-sub083/pkg/registry"
	"github.com/IRCAD/sight-sub083/pkg/storage"
	"github.com/IRCAD/sight-sub083/pkg/worker"
)

// Manager owns the collectors of the process. Its zero value is disabled.
type Manager struct {
	registry *prometheus.Registry
	enabled  bool

	signalEmits        *prometheus.CounterVec
	signalFanout       *prometheus.HistogramVec
	signalDeliveries   *prometheus.CounterVec
	signalFailures     *prometheus.CounterVec
	signalEmitDuration *prometheus.HistogramVec

	workerQueueDepth   *prometheus.GaugeVec
	workerTasks        *prometheus.CounterVec
	workerTaskDuration *prometheus.HistogramVec
	workerDropped      *prometheus.CounterVec

	registryMutations *prometheus.CounterVec
	registryEntries   *prometheus.GaugeVec

	lockAcquisitions *prometheus.CounterVec
	lockEntities     *prometheus.HistogramVec
	lockHoldDuration *prometheus.HistogramVec

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge

	grpcRequests *prometheus.CounterVec
	grpcDuration *prometheus.HistogramVec
}

// Config selects the exposition endpoint and the histogram layouts. All
// durations are observed in seconds.
type Config struct {
	Enabled bool
	Port    int
	Path    string

	EmitDurationBuckets []float64
	TaskDurationBuckets []float64
	LockHoldBuckets     []float64
	HTTPDurationBuckets []float64
}

// DefaultConfig serves /metrics on 9091. Emission buckets start at 10µs,
// synchronous slots being that fast.
func DefaultConfig() Config {
	return Config{
		Enabled:             true,
		Port:                9091,
		Path:                "/metrics",
		EmitDurationBuckets: prometheus.ExponentialBuckets(0.00001, 10, 6),
		TaskDurationBuckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		LockHoldBuckets:     []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		HTTPDurationBuckets: prometheus.DefBuckets,
	}
}

// NewManager registers every collector on a private registry, together with
// the Go runtime and process collectors. A disabled config yields a manager
// whose recording methods do nothing.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return NoOpManager()
	}

	m := &Manager{registry: prometheus.NewRegistry(), enabled: true}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	for _, setup := range []func(Config){
		m.initSignalMetrics,
		m.initWorkerMetrics,
		func(Config) { m.initRegistryMetrics() },
		m.initLockMetrics,
		m.initStoreMetrics,
		m.initHTTPMetrics,
		m.initGRPCMetrics,
	} {
		setup(cfg)
	}
	return m
}

// Enabled returns whether metrics collection is enabled.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Registry returns the Prometheus registry, nil when disabled.
func (m *Manager) Registry() *prometheus.Registry {
	return m.registry
}

// Install makes m the recorder of the core packages. A disabled manager
// leaves them untouched.
func (m *Manager) Install() {
	if !m.enabled {
		return
	}
	worker.SetMetricsRecorder(m)
	com.SetMetricsRecorder(m)
	registry.SetMetricsRecorder(m)
	lock.SetMetricsRecorder(m)
	storage.SetMetricsRecorder(m)
}

// Uninstall restores the no-op recorders.
func Uninstall() {
	worker.SetMetricsRecorder(nil)
	com.SetMetricsRecorder(nil)
	registry.SetMetricsRecorder(nil)
	lock.SetMetricsRecorder(nil)
	storage.SetMetricsRecorder(nil)
}

// Handler serves the registry in the text or OpenMetrics format. A disabled
// manager answers 404.
func (m *Manager) Handler() http.Handler {
	if !m.enabled {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
	})
}

// StartServer serves the metrics on their own port until ctx ends. It
// returns http.ErrServerClosed after a clean stop.
func (m *Manager) StartServer(ctx context.Context, port int, path string) error {
	if !m.enabled {
		return nil
	}
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("metrics: listen: %w", err)
	}
	return m.Serve(ctx, ln, path)
}

// Serve is StartServer on an existing listener.
func (m *Manager) Serve(ctx context.Context, ln net.Listener, path string) error {
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()
	return srv.Serve(ln)
}

// NoOpManager returns a disabled manager.
func NoOpManager() *Manager {
	return &Manager{}
}
