package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initStoreMetrics initializes snapshot store metrics.
func (m *Manager) initStoreMetrics(cfg Config) {
	m.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshot_store_operations_total",
			Help: "Total number of snapshot store operations by backend, operation and status",
		},
		[]string{"backend", "op", "status"},
	)

	m.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snapshot_store_duration_seconds",
			Help:    "Snapshot store operation duration in seconds",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"backend", "op"},
	)

	m.registry.MustRegister(m.storeOps)
	m.registry.MustRegister(m.storeDuration)
}

// RecordStoreOperation records a snapshot store operation.
func (m *Manager) RecordStoreOperation(backend, op string, duration time.Duration, err error) {
	if !m.enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.storeOps.WithLabelValues(backend, op, status).Inc()
	m.storeDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
}
