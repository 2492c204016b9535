package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

func (m *Manager) initHTTPMetrics(cfg Config) {
	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	m.httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds, with trace exemplars",
			Buckets: cfg.HTTPDurationBuckets,
		},
		[]string{"method", "route"},
	)

	m.httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests being served",
		},
	)

	m.registry.MustRegister(m.httpRequests, m.httpDuration, m.httpInFlight)
}

// ObserveHTTP records a served request. When ctx holds a sampled span, the
// duration observation carries its trace as an exemplar.
func (m *Manager) ObserveHTTP(ctx context.Context, method, route string, status int, elapsed time.Duration) {
	if !m.enabled {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()

	obs := m.httpDuration.WithLabelValues(method, route)
	if eo, ok := obs.(prometheus.ExemplarObserver); ok {
		if ex := exemplar(ctx); ex != nil {
			eo.ObserveWithExemplar(elapsed.Seconds(), ex)
			return
		}
	}
	obs.Observe(elapsed.Seconds())
}

// AddInFlight moves the in-flight gauge by delta.
func (m *Manager) AddInFlight(delta int) {
	if !m.enabled {
		return
	}
	m.httpInFlight.Add(float64(delta))
}

func exemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String(), "span_id": sc.SpanID().String()}
}
