package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// initWorkerMetrics initializes worker queue metrics.
func (m *Manager) initWorkerMetrics(cfg Config) {
	m.workerQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current number of tasks waiting in a worker queue",
		},
		[]string{"worker"},
	)

	m.workerTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_total",
			Help: "Total number of tasks run by a worker, by status",
		},
		[]string{"worker", "status"},
	)

	m.workerTaskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: cfg.TaskDurationBuckets,
		},
		[]string{"worker"},
	)

	m.workerDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tasks_dropped_total",
			Help: "Total number of queued tasks dropped by Kill",
		},
		[]string{"worker"},
	)

	m.registry.MustRegister(m.workerQueueDepth)
	m.registry.MustRegister(m.workerTasks)
	m.registry.MustRegister(m.workerTaskDuration)
	m.registry.MustRegister(m.workerDropped)
}

// RecordTaskQueued records a task entering a worker queue.
func (m *Manager) RecordTaskQueued(worker string) {
	if !m.enabled {
		return
	}
	m.workerQueueDepth.WithLabelValues(worker).Inc()
}

// RecordTaskDone records a task leaving a worker queue after it ran.
func (m *Manager) RecordTaskDone(worker string, duration time.Duration, err error) {
	if !m.enabled {
		return
	}
	status := "completed"
	if err != nil {
		status = "failed"
	}
	m.workerQueueDepth.WithLabelValues(worker).Dec()
	m.workerTasks.WithLabelValues(worker, status).Inc()
	m.workerTaskDuration.WithLabelValues(worker).Observe(duration.Seconds())
}

// RecordTasksDropped records tasks dropped from a worker queue.
func (m *Manager) RecordTasksDropped(worker string, count int) {
	if !m.enabled {
		return
	}
	m.workerQueueDepth.WithLabelValues(worker).Sub(float64(count))
	m.workerDropped.WithLabelValues(worker).Add(float64(count))
}
