package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"
)

// StorageTestSuite defines a test suite that can be run against any Storage implementation.
type StorageTestSuite struct {
	NewStorage func(t *testing.T) Storage
}

// RunAllTests runs all storage tests against the provided storage implementation.
func (s *StorageTestSuite) RunAllTests(t *testing.T) {
	t.Run("SnapshotCRUD", s.TestSnapshotCRUD)
	t.Run("SnapshotIsolation", s.TestSnapshotIsolation)
	t.Run("ListSnapshotsWithFilter", s.TestListSnapshotsWithFilter)
	t.Run("ListSnapshotsWithPagination", s.TestListSnapshotsWithPagination)
	t.Run("ConcurrentAccess", s.TestConcurrentAccess)
	t.Run("SnapshotNotFound", s.TestSnapshotNotFound)
}

// NewTestRecord builds a small record for backend tests.
func NewTestRecord(id, objectID, class string, created time.Time) *SnapshotRecord {
	return &SnapshotRecord{
		ID:        id,
		ObjectID:  objectID,
		Class:     class,
		Hash:      "0000000000000000",
		Labels:    map[string]string{"source": "test"},
		Tree:      json.RawMessage(fmt.Sprintf(`{"id":%q,"class":%q,"properties":{}}`, objectID, class)),
		CreatedAt: created.UTC(),
	}
}

// TestSnapshotCRUD tests basic snapshot CRUD operations.
func (s *StorageTestSuite) TestSnapshotCRUD(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	rec := NewTestRecord("snap-1", "image-1", "data::Image", time.Now())

	if err := store.SaveSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	retrieved, err := store.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if retrieved.ObjectID != rec.ObjectID {
		t.Errorf("expected ObjectID %s, got %s", rec.ObjectID, retrieved.ObjectID)
	}
	if retrieved.Class != rec.Class {
		t.Errorf("expected Class %s, got %s", rec.Class, retrieved.Class)
	}
	if retrieved.Labels["source"] != "test" {
		t.Errorf("expected label source=test, got %v", retrieved.Labels)
	}
	if !retrieved.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected CreatedAt %v, got %v", rec.CreatedAt, retrieved.CreatedAt)
	}

	var tree map[string]any
	if err := json.Unmarshal(retrieved.Tree, &tree); err != nil {
		t.Fatalf("stored tree is not JSON: %v", err)
	}
	if tree["id"] != "image-1" {
		t.Errorf("expected tree id image-1, got %v", tree["id"])
	}

	// Re-saving replaces the record
	retrieved.Hash = "ffffffffffffffff"
	if err := store.SaveSnapshot(ctx, retrieved); err != nil {
		t.Fatalf("SaveSnapshot (update) failed: %v", err)
	}
	updated, err := store.GetSnapshot(ctx, "snap-1")
	if err != nil {
		t.Fatalf("GetSnapshot (after update) failed: %v", err)
	}
	if updated.Hash != "ffffffffffffffff" {
		t.Errorf("expected updated hash, got %s", updated.Hash)
	}

	if err := store.DeleteSnapshot(ctx, "snap-1"); err != nil {
		t.Fatalf("DeleteSnapshot failed: %v", err)
	}
	if _, err := store.GetSnapshot(ctx, "snap-1"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError after delete, got %v", err)
	}
}

// TestSnapshotIsolation checks that callers cannot mutate stored records.
func (s *StorageTestSuite) TestSnapshotIsolation(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	rec := NewTestRecord("snap-iso", "mesh-1", "data::Mesh", time.Now())
	if err := store.SaveSnapshot(ctx, rec); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	rec.Labels["source"] = "mutated"
	got, err := store.GetSnapshot(ctx, "snap-iso")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if got.Labels["source"] != "test" {
		t.Errorf("stored record changed through the caller's copy: %v", got.Labels)
	}

	got.Labels["source"] = "mutated"
	again, err := store.GetSnapshot(ctx, "snap-iso")
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if again.Labels["source"] != "test" {
		t.Errorf("stored record changed through a returned copy: %v", again.Labels)
	}
}

// TestListSnapshotsWithFilter tests listing snapshots by object and class.
func (s *StorageTestSuite) TestListSnapshotsWithFilter(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	records := []*SnapshotRecord{
		NewTestRecord("snap-a", "image-1", "data::Image", base),
		NewTestRecord("snap-b", "image-1", "data::Image", base.Add(time.Second)),
		NewTestRecord("snap-c", "image-2", "data::Image", base.Add(2*time.Second)),
		NewTestRecord("snap-d", "comp-1", "data::Composite", base.Add(3*time.Second)),
	}
	for _, rec := range records {
		if err := store.SaveSnapshot(ctx, rec); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	all, total, err := store.ListSnapshots(ctx, nil)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("expected 4 snapshots, got %d (total %d)", len(all), total)
	}
	for i, rec := range all {
		if rec.ID != records[i].ID {
			t.Errorf("expected oldest-first order, position %d got %s", i, rec.ID)
		}
	}

	byObject, total, err := store.ListSnapshots(ctx, &SnapshotFilter{ObjectID: "image-1"})
	if err != nil {
		t.Fatalf("ListSnapshots(object) failed: %v", err)
	}
	if total != 2 || len(byObject) != 2 {
		t.Errorf("expected 2 snapshots of image-1, got %d", len(byObject))
	}

	byClass, total, err := store.ListSnapshots(ctx, &SnapshotFilter{Class: "data::Composite"})
	if err != nil {
		t.Fatalf("ListSnapshots(class) failed: %v", err)
	}
	if total != 1 || len(byClass) != 1 || byClass[0].ID != "snap-d" {
		t.Errorf("expected only snap-d, got %v", byClass)
	}

	none, total, err := store.ListSnapshots(ctx, &SnapshotFilter{ObjectID: "image-1", Class: "data::Composite"})
	if err != nil {
		t.Fatalf("ListSnapshots(none) failed: %v", err)
	}
	if total != 0 || len(none) != 0 {
		t.Errorf("expected no snapshot, got %d", len(none))
	}
}

// TestListSnapshotsWithPagination tests pagination.
func (s *StorageTestSuite) TestListSnapshotsWithPagination(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		rec := NewTestRecord(fmt.Sprintf("snap-%02d", i), "image-1", "data::Image", base.Add(time.Duration(i)*time.Second))
		if err := store.SaveSnapshot(ctx, rec); err != nil {
			t.Fatalf("SaveSnapshot failed: %v", err)
		}
	}

	page, total, err := store.ListSnapshots(ctx, &SnapshotFilter{Limit: 3, Offset: 0})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected total 10, got %d", total)
	}
	if len(page) != 3 || page[0].ID != "snap-00" {
		t.Errorf("unexpected first page: %d records", len(page))
	}

	page, _, err = store.ListSnapshots(ctx, &SnapshotFilter{Limit: 3, Offset: 9})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "snap-09" {
		t.Errorf("expected the last snapshot alone, got %d records", len(page))
	}

	page, total, err = store.ListSnapshots(ctx, &SnapshotFilter{Limit: 3, Offset: 20})
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(page) != 0 || total != 10 {
		t.Errorf("expected an empty page past the end, got %d (total %d)", len(page), total)
	}
}

// TestConcurrentAccess tests concurrent read/write operations.
func (s *StorageTestSuite) TestConcurrentAccess(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()

			id := fmt.Sprintf("snap-concurrent-%d", idx)
			if err := store.SaveSnapshot(ctx, NewTestRecord(id, "image-1", "data::Image", time.Now())); err != nil {
				errs <- err
				return
			}
			if _, err := store.GetSnapshot(ctx, id); err != nil {
				errs <- err
			}
			if _, _, err := store.ListSnapshots(ctx, &SnapshotFilter{ObjectID: "image-1"}); err != nil {
				errs <- err
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent operation failed: %v", err)
	}

	_, total, err := store.ListSnapshots(ctx, nil)
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if total != 10 {
		t.Errorf("expected 10 snapshots, got %d", total)
	}
}

// TestSnapshotNotFound tests not-found errors.
func (s *StorageTestSuite) TestSnapshotNotFound(t *testing.T) {
	store := s.NewStorage(t)
	defer store.Close()

	ctx := context.Background()

	_, err := store.GetSnapshot(ctx, "missing")
	if !IsNotFound(err) {
		t.Errorf("expected NotFoundError from GetSnapshot, got %v", err)
	}
	if err := store.DeleteSnapshot(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("expected NotFoundError from DeleteSnapshot, got %v", err)
	}
}
