// Package memory provides an in-memory implementation of the storage interface.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/IRCAD/sight-sub083/pkg/storage"
)

// MemoryStorage implements the Storage interface using an in-memory map.
type MemoryStorage struct {
	mu        sync.RWMutex
	snapshots map[string]*storage.SnapshotRecord
}

// NewMemoryStorage creates a new in-memory storage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		snapshots: make(map[string]*storage.SnapshotRecord),
	}
}

// SaveSnapshot saves or replaces a snapshot.
func (m *MemoryStorage) SaveSnapshot(ctx context.Context, rec *storage.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	// Copy to avoid external modifications
	m.snapshots[rec.ID] = rec.Clone()
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (m *MemoryStorage) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, exists := m.snapshots[id]
	if !exists {
		return nil, &storage.NotFoundError{
			EntityType: "snapshot",
			ID:         id,
		}
	}
	return rec.Clone(), nil
}

// ListSnapshots lists snapshots oldest first with optional filtering and
// pagination.
func (m *MemoryStorage) ListSnapshots(ctx context.Context, filter *storage.SnapshotFilter) ([]*storage.SnapshotRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*storage.SnapshotRecord
	for _, rec := range m.snapshots {
		if filter.Match(rec) {
			matched = append(matched, rec.Clone())
		}
	}
	page, total := filter.Page(matched)
	return page, total, nil
}

// DeleteSnapshot deletes a snapshot.
func (m *MemoryStorage) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.snapshots[id]; !exists {
		return &storage.NotFoundError{
			EntityType: "snapshot",
			ID:         id,
		}
	}
	delete(m.snapshots, id)
	return nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	return nil
}
