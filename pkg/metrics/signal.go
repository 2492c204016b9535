package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func (m *Manager) initSignalMetrics(cfg Config) {
	m.signalEmits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_emits_total",
			Help: "Total number of signal emissions",
		},
		[]string{"signal", "mode"},
	)

	m.signalDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_deliveries_total",
			Help: "Total number of successful slot invocations",
		},
		[]string{"signal", "mode"},
	)

	m.signalFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_slot_failures_total",
			Help: "Total number of slot invocations that returned an error or panicked",
		},
		[]string{"signal", "mode"},
	)

	m.signalEmitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_emit_duration_seconds",
			Help:    "Synchronous emission duration in seconds",
			Buckets: cfg.EmitDurationBuckets,
		},
		[]string{"signal"},
	)

	m.signalFanout = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "signal_emit_connections",
			Help:    "Number of connections a signal had when emitted",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
		[]string{"signal"},
	)

	m.registry.MustRegister(m.signalEmits)
	m.registry.MustRegister(m.signalFanout)
	m.registry.MustRegister(m.signalDeliveries)
	m.registry.MustRegister(m.signalFailures)
	m.registry.MustRegister(m.signalEmitDuration)
}

// RecordEmit records a signal emission towards the given number of connections.
func (m *Manager) RecordEmit(signal string, mode string, connections int) {
	if !m.enabled {
		return
	}
	m.signalEmits.WithLabelValues(signal, mode).Inc()
	m.signalFanout.WithLabelValues(signal).Observe(float64(connections))
}

// RecordDelivery records a successful slot invocation.
func (m *Manager) RecordDelivery(signal string, mode string) {
	if !m.enabled {
		return
	}
	m.signalDeliveries.WithLabelValues(signal, mode).Inc()
}

// RecordSlotFailure records a failed slot invocation.
func (m *Manager) RecordSlotFailure(signal string, mode string) {
	if !m.enabled {
		return
	}
	m.signalFailures.WithLabelValues(signal, mode).Inc()
}

// RecordEmitDuration records the duration of a synchronous emission.
func (m *Manager) RecordEmitDuration(signal string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.signalEmitDuration.WithLabelValues(signal).Observe(duration.Seconds())
}
