// Package storage persists object-graph snapshots rendered by the dump
// package.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/IRCAD/sight-sub083/pkg/data"
	"github.com/IRCAD/sight-sub083/pkg/data/dump"
)

// Storage defines the interface for snapshot persistence.
type Storage interface {
	SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error
	GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error)
	ListSnapshots(ctx context.Context, filter *SnapshotFilter) ([]*SnapshotRecord, int, error)
	DeleteSnapshot(ctx context.Context, id string) error

	// Lifecycle
	Close() error
}

// Pinger is implemented by backends that can check their connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks s when it is a Pinger and succeeds otherwise.
func Ping(ctx context.Context, s Storage) error {
	if p, ok := s.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// SnapshotRecord is one persisted rendering of an object graph.
type SnapshotRecord struct {
	ID        string            `json:"id"`
	ObjectID  string            `json:"object_id"`
	Class     string            `json:"class"`
	Hash      string            `json:"hash"`
	Labels    map[string]string `json:"labels,omitempty"`
	Tree      json.RawMessage   `json:"tree"`
	CreatedAt time.Time         `json:"created_at"`
}

// Clone returns a deep copy of r.
func (r *SnapshotRecord) Clone() *SnapshotRecord {
	c := *r
	if r.Labels != nil {
		c.Labels = make(map[string]string, len(r.Labels))
		for k, v := range r.Labels {
			c.Labels[k] = v
		}
	}
	c.Tree = append(json.RawMessage(nil), r.Tree...)
	return &c
}

// SnapshotFilter defines filtering options for listing snapshots.
type SnapshotFilter struct {
	ObjectID string `json:"object_id,omitempty"`
	Class    string `json:"class,omitempty"`
	Limit    int    `json:"limit"`
	Offset   int    `json:"offset"`
}

// Match reports whether rec passes the filter. A nil filter matches all.
func (f *SnapshotFilter) Match(rec *SnapshotRecord) bool {
	if f == nil {
		return true
	}
	if f.ObjectID != "" && rec.ObjectID != f.ObjectID {
		return false
	}
	if f.Class != "" && rec.Class != f.Class {
		return false
	}
	return true
}

// Page sorts records oldest first and applies the filter pagination. It
// returns the page and the total number of records before pagination.
func (f *SnapshotFilter) Page(records []*SnapshotRecord) ([]*SnapshotRecord, int) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].ID < records[j].ID
	})
	total := len(records)
	if f == nil || f.Limit <= 0 {
		return records, total
	}

	start := f.Offset
	end := f.Offset + f.Limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}
	return records[start:end], total
}

// Capture renders root under its recursive lock and wraps the result in a
// new record. The hash covers the rendered tree.
func Capture(ctx context.Context, root data.Object, labels map[string]string) (*SnapshotRecord, error) {
	tree, err := dump.SnapshotContext(ctx, root)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, &SerializationError{Operation: "marshal", Cause: err}
	}
	return &SnapshotRecord{
		ID:        uuid.NewString(),
		ObjectID:  root.ID(),
		Class:     root.Classname(),
		Hash:      fmt.Sprintf("%016x", xxhash.Sum64(raw)),
		Labels:    labels,
		Tree:      raw,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// NotFoundError indicates that the requested entity was not found.
type NotFoundError struct {
	EntityType string
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.EntityType, e.ID)
}

// StorageUnavailableError indicates that the storage backend is unavailable.
type StorageUnavailableError struct {
	Cause error
}

func (e *StorageUnavailableError) Error() string {
	return fmt.Sprintf("storage unavailable: %v", e.Cause)
}

func (e *StorageUnavailableError) Unwrap() error { return e.Cause }

// SerializationError indicates a failure in data serialization/deserialization.
type SerializationError struct {
	Operation string
	Cause     error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization error during %s: %v", e.Operation, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
