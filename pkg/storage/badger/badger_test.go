package badger

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/storage"
)

func openDir(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(config.BadgerConfig{
		Path:              dir,
		ValueLogFileSize:  1 << 20,
		NumVersionsToKeep: 1,
	}, logger.Nop())
	require.NoError(t, err)
	return s
}

func TestStore_Suite(t *testing.T) {
	suite := &storage.StorageTestSuite{
		NewStorage: func(t *testing.T) storage.Storage { return openDir(t, t.TempDir()) },
	}
	suite.RunAllTests(t)
}

func TestStore_InMemory(t *testing.T) {
	s, err := Open(config.BadgerConfig{Path: "ignored", InMemory: true}, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.SaveSnapshot(ctx, storage.NewTestRecord("snap-1", "image-1", "data::Image", time.Now())))
	got, err := s.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "image-1", got.ObjectID)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openDir(t, dir)
	require.NoError(t, s.SaveSnapshot(ctx, storage.NewTestRecord("snap-1", "image-1", "data::Image", time.Now())))
	require.NoError(t, s.Close())

	s = openDir(t, dir)
	defer s.Close()
	got, err := s.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	assert.Equal(t, "image-1", got.ObjectID)
}

func TestStore_Unavailable(t *testing.T) {
	dir := t.TempDir()
	s := openDir(t, dir)
	defer s.Close()

	// The directory lock is held by s.
	_, err := Open(config.BadgerConfig{Path: dir}, logger.Nop())
	var unavailable *storage.StorageUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestStore_ObjectIndex(t *testing.T) {
	ctx := context.Background()

	t.Run("resave moves the entry", func(t *testing.T) {
		s := openDir(t, t.TempDir())
		defer s.Close()

		rec := storage.NewTestRecord("snap-1", "image-1", "data::Image", time.Now())
		require.NoError(t, s.SaveSnapshot(ctx, rec))
		rec.ObjectID = "image-2"
		require.NoError(t, s.SaveSnapshot(ctx, rec))

		_, total, err := s.ListSnapshots(ctx, &storage.SnapshotFilter{ObjectID: "image-1"})
		require.NoError(t, err)
		assert.Zero(t, total)

		moved, total, err := s.ListSnapshots(ctx, &storage.SnapshotFilter{ObjectID: "image-2"})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, "snap-1", moved[0].ID)
	})

	t.Run("delete drops the entry", func(t *testing.T) {
		s := openDir(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.SaveSnapshot(ctx, storage.NewTestRecord("snap-1", "image-1", "data::Image", time.Now())))
		require.NoError(t, s.DeleteSnapshot(ctx, "snap-1"))

		recs, total, err := s.ListSnapshots(ctx, &storage.SnapshotFilter{ObjectID: "image-1"})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, recs)
	})

	t.Run("object ids sharing a prefix stay apart", func(t *testing.T) {
		s := openDir(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.SaveSnapshot(ctx, storage.NewTestRecord("a", "mesh", "data::Mesh", time.Now())))
		require.NoError(t, s.SaveSnapshot(ctx, storage.NewTestRecord("b", "mesh-2", "data::Mesh", time.Now())))

		recs, total, err := s.ListSnapshots(ctx, &storage.SnapshotFilter{ObjectID: "mesh"})
		require.NoError(t, err)
		require.Equal(t, 1, total)
		assert.Equal(t, "a", recs[0].ID)
	})

	t.Run("dangling entries are skipped", func(t *testing.T) {
		s := openDir(t, t.TempDir())
		defer s.Close()

		require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
			return txn.Set(objectKey("image-1", "gone"), nil)
		}))
		recs, total, err := s.ListSnapshots(ctx, &storage.SnapshotFilter{ObjectID: "image-1"})
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, recs)
	})
}

func TestStore_CanceledContext(t *testing.T) {
	s := openDir(t, t.TempDir())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.SaveSnapshot(ctx, storage.NewTestRecord("snap-1", "o", "c", time.Now())), context.Canceled)
	_, err := s.GetSnapshot(ctx, "snap-1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.DeleteSnapshot(ctx, "snap-1"), context.Canceled)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []byte("r/snap"), recordKey("snap"))
	assert.Equal(t, []byte("o/image/snap"), objectKey("image", "snap"))
	assert.True(t, bytes.HasPrefix(objectKey("image", "snap"), objectPrefix("image")))
	assert.False(t, bytes.HasPrefix(objectKey("image-2", "snap"), objectPrefix("image")))
}

func TestBadgerLog(t *testing.T) {
	var buf bytes.Buffer
	l := badgerLog{logger.NewWithWriter(&buf, &logger.Config{Level: logger.DebugLevel})}
	l.Errorf("table %d corrupt", 3)
	l.Warningf("slow")
	l.Infof("opened")
	l.Debugf("noise")

	out := buf.String()
	assert.Contains(t, out, "table 3 corrupt")
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"level":"DEBUG"`)
	assert.NotContains(t, out, "noise")
}
