package worker

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/IRCAD/sight-sub083/pkg/logger"
)

// DefaultName is the name of the worker returned by Manager.Default.
const DefaultName = "default"

// Manager owns a set of named workers.
type Manager struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	log     logger.Logger
}

// NewManager creates an empty worker manager.
func NewManager(log logger.Logger) *Manager {
	return &Manager{
		workers: make(map[string]*Worker),
		log:     logger.OrComponent(log, "worker"),
	}
}

// Get returns the worker registered under name, creating it if absent.
func (m *Manager) Get(name string) *Worker {
	m.mu.RLock()
	w, ok := m.workers[name]
	m.mu.RUnlock()
	if ok {
		return w
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.workers[name]; ok {
		return w
	}
	w = New(name, WithLogger(m.log.With("worker", name)))
	m.workers[name] = w
	return w
}

// Default returns the shared default worker.
func (m *Manager) Default() *Worker {
	return m.Get(DefaultName)
}

// Add registers an existing worker under its name.
func (m *Manager) Add(w *Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.workers[w.Name()]; exists {
		return &DuplicateWorkerError{Name: w.Name()}
	}
	m.workers[w.Name()] = w
	return nil
}

// Lookup returns the worker registered under name.
func (m *Manager) Lookup(name string) (*Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[name]
	if !ok {
		return nil, &WorkerNotFoundError{Name: name}
	}
	return w, nil
}

// Remove stops and forgets the named worker.
func (m *Manager) Remove(ctx context.Context, name string) error {
	m.mu.Lock()
	w, ok := m.workers[name]
	delete(m.workers, name)
	m.mu.Unlock()
	if !ok {
		return &WorkerNotFoundError{Name: name}
	}
	return w.StopAndWait(ctx)
}

// Stats returns worker statistics sorted by name.
func (m *Manager) Stats() []Stats {
	m.mu.RLock()
	stats := make([]Stats, 0, len(m.workers))
	for _, w := range m.workers {
		stats = append(stats, w.Stats())
	}
	m.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// StopAll stops every worker and waits for them, up to ctx.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.workers))
	for name, w := range m.workers {
		workers = append(workers, w)
		delete(m.workers, name)
	}
	m.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
	var err error
	for _, w := range workers {
		if stopErr := w.StopAndWait(ctx); stopErr != nil {
			m.log.Warn("Worker did not stop in time", "worker", w.Name(), "error", stopErr)
			err = multierr.Append(err, stopErr)
		}
	}
	return err
}
