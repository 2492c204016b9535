package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initLockMetrics initializes recursive lock metrics.
func (m *Manager) initLockMetrics(cfg Config) {
	m.lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lock_recursive_acquisitions_total",
			Help: "Total number of recursive graph locks taken, by root class",
		},
		[]string{"class"},
	)

	m.lockEntities = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_recursive_entities",
			Help:    "Number of objects and buffers held by a recursive lock",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"class"},
	)

	m.lockHoldDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lock_recursive_hold_seconds",
			Help:    "Time a recursive lock was held in seconds",
			Buckets: cfg.LockHoldBuckets,
		},
		[]string{"class"},
	)

	m.registry.MustRegister(m.lockAcquisitions)
	m.registry.MustRegister(m.lockEntities)
	m.registry.MustRegister(m.lockHoldDuration)
}

// RecordAcquire records a recursive lock taken over entities.
func (m *Manager) RecordAcquire(class string, entities int) {
	if !m.enabled {
		return
	}
	m.lockAcquisitions.WithLabelValues(class).Inc()
	m.lockEntities.WithLabelValues(class).Observe(float64(entities))
}

// RecordHold records how long a recursive lock was held.
func (m *Manager) RecordHold(class string, duration time.Duration) {
	if !m.enabled {
		return
	}
	m.lockHoldDuration.WithLabelValues(class).Observe(duration.Seconds())
}
