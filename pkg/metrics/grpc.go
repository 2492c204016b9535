package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initGRPCMetrics initializes gRPC server metrics.
func (m *Manager) initGRPCMetrics(cfg Config) {
	m.grpcRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_requests_total",
			Help: "Total number of gRPC requests by method, kind and status code",
		},
		[]string{"method", "kind", "code"},
	)

	m.grpcDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "grpc_server_request_duration_seconds",
			Help:    "gRPC request duration in seconds",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "kind"},
	)

	m.registry.MustRegister(m.grpcRequests)
	m.registry.MustRegister(m.grpcDuration)
}

// RecordRPC records one finished RPC.
func (m *Manager) RecordRPC(method, kind, code string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.grpcRequests.WithLabelValues(method, kind, code).Inc()
	m.grpcDuration.WithLabelValues(method, kind).Observe(duration.Seconds())
}
