package storage

import (
	"context"
	"sync/atomic"
	"time"
)

// MetricsRecorder defines metrics hooks for snapshot stores.
type MetricsRecorder interface {
	RecordStoreOperation(backend, op string, duration time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordStoreOperation(string, string, time.Duration, error) {}

type recorderBox struct{ MetricsRecorder }

var recorder atomic.Pointer[recorderBox]

// SetMetricsRecorder installs the recorder used by Instrumented stores.
func SetMetricsRecorder(r MetricsRecorder) {
	if r == nil {
		recorder.Store(nil)
		return
	}
	recorder.Store(&recorderBox{r})
}

func metricsRecorder() MetricsRecorder {
	if b := recorder.Load(); b != nil {
		return b.MetricsRecorder
	}
	return nopMetrics{}
}

// Instrumented wraps a Storage and records every operation under backend.
type Instrumented struct {
	Storage
	backend string
}

// Instrument wraps s so its operations are timed and counted.
func Instrument(s Storage, backend string) *Instrumented {
	return &Instrumented{Storage: s, backend: backend}
}

// Backend returns the backend label.
func (s *Instrumented) Backend() string { return s.backend }

// Ping forwards to the wrapped backend.
func (s *Instrumented) Ping(ctx context.Context) error { return Ping(ctx, s.Storage) }

func (s *Instrumented) observe(op string, start time.Time, err error) {
	metricsRecorder().RecordStoreOperation(s.backend, op, time.Since(start), err)
}

// SaveSnapshot implements Storage.
func (s *Instrumented) SaveSnapshot(ctx context.Context, rec *SnapshotRecord) error {
	start := time.Now()
	err := s.Storage.SaveSnapshot(ctx, rec)
	s.observe("save", start, err)
	return err
}

// GetSnapshot implements Storage.
func (s *Instrumented) GetSnapshot(ctx context.Context, id string) (*SnapshotRecord, error) {
	start := time.Now()
	rec, err := s.Storage.GetSnapshot(ctx, id)
	s.observe("get", start, err)
	return rec, err
}

// ListSnapshots implements Storage.
func (s *Instrumented) ListSnapshots(ctx context.Context, filter *SnapshotFilter) ([]*SnapshotRecord, int, error) {
	start := time.Now()
	recs, total, err := s.Storage.ListSnapshots(ctx, filter)
	s.observe("list", start, err)
	return recs, total, err
}

// DeleteSnapshot implements Storage.
func (s *Instrumented) DeleteSnapshot(ctx context.Context, id string) error {
	start := time.Now()
	err := s.Storage.DeleteSnapshot(ctx, id)
	s.observe("delete", start, err)
	return err
}
