package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// initRegistryMetrics initializes object/service registry metrics.
func (m *Manager) initRegistryMetrics() {
	m.registryMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "registry_mutations_total",
			Help: "Total number of registry mutations by operation and status",
		},
		[]string{"op", "status"},
	)

	m.registryEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "registry_entries",
			Help: "Current number of registry entries by kind",
		},
		[]string{"kind"},
	)

	m.registry.MustRegister(m.registryMutations)
	m.registry.MustRegister(m.registryEntries)
}

// RecordMutation records a registry mutation.
func (m *Manager) RecordMutation(op string, err error) {
	if !m.enabled {
		return
	}
	status := "success"
	if err != nil {
		status = "rejected"
	}
	m.registryMutations.WithLabelValues(op, status).Inc()
}

// SetEntries sets the number of registered services and objects.
func (m *Manager) SetEntries(services, objects int) {
	if !m.enabled {
		return
	}
	m.registryEntries.WithLabelValues("service").Set(float64(services))
	m.registryEntries.WithLabelValues("object").Set(float64(objects))
}
