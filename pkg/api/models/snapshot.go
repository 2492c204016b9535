// Package models defines the request and response bodies of the API.
package models

import (
	"encoding/json"
	"time"

	"github.com/IRCAD/sight-sub083/pkg/storage"
)

// CreateSnapshotRequest asks for a snapshot of a registered object.
type CreateSnapshotRequest struct {
	// ObjectID is the id of a registered object.
	ObjectID string `json:"object_id" validate:"required,min=1,max=100"`

	// Labels are free-form tags stored with the snapshot.
	Labels map[string]string `json:"labels,omitempty" validate:"max=32,dive,keys,min=1,max=64,endkeys,max=256"`
}

// SnapshotResponse describes a stored snapshot.
type SnapshotResponse struct {
	ID        string            `json:"id"`
	ObjectID  string            `json:"object_id"`
	Class     string            `json:"class"`
	Hash      string            `json:"hash"`
	Labels    map[string]string `json:"labels,omitempty"`
	Size      string            `json:"size"`
	CreatedAt time.Time         `json:"created_at"`
	Tree      json.RawMessage   `json:"tree,omitempty"`
}

// SnapshotListResponse is a page of snapshots.
type SnapshotListResponse struct {
	Snapshots []SnapshotResponse `json:"snapshots"`
	Total     int                `json:"total"`
	Limit     int                `json:"limit"`
	Offset    int                `json:"offset"`
}

// SnapshotQuery holds the list filters taken from the query string.
type SnapshotQuery struct {
	ObjectID string `validate:"omitempty,max=100"`
	Class    string `validate:"omitempty,max=100"`
	Limit    int    `validate:"min=1,max=100"`
	Offset   int    `validate:"min=0"`
}

// Filter converts the query to a storage filter.
func (q SnapshotQuery) Filter() *storage.SnapshotFilter {
	return &storage.SnapshotFilter{
		ObjectID: q.ObjectID,
		Class:    q.Class,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
}
