// Package badger persists snapshots in an embedded BadgerDB.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/IRCAD/sight-sub083/config"
	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/storage"
)

// Key layout. Records and the object index live in disjoint namespaces so a
// record scan never meets index keys:
//
//	r/<snapshot id>             -> JSON record
//	o/<object id>/<snapshot id> -> empty
var (
	recordNS = []byte("r/")
	objectNS = []byte("o/")
)

func recordKey(id string) []byte {
	return append(append([]byte{}, recordNS...), id...)
}

func objectPrefix(objectID string) []byte {
	k := append(append([]byte{}, objectNS...), objectID...)
	return append(k, '/')
}

func objectKey(objectID, id string) []byte {
	return append(objectPrefix(objectID), id...)
}

// Store is a storage.Storage on top of BadgerDB.
type Store struct {
	db       *badger.DB
	inMemory bool
	log      logger.Logger
}

// Open opens or creates the database at cfg.Path, or an in-memory one when
// cfg.InMemory is set.
func Open(cfg config.BadgerConfig, log logger.Logger) (*Store, error) {
	log = logger.OrComponent(log, "storage.badger")

	dir := cfg.Path
	if cfg.InMemory {
		dir = ""
	}
	opts := badger.DefaultOptions(dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(badgerLog{log})
	if cfg.ValueLogFileSize > 0 {
		opts = opts.WithValueLogFileSize(cfg.ValueLogFileSize)
	}
	if cfg.NumVersionsToKeep > 0 {
		opts = opts.WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &storage.StorageUnavailableError{Cause: err}
	}
	return &Store{db: db, inMemory: cfg.InMemory, log: log}, nil
}

// SaveSnapshot writes rec and moves its index entry when the record was
// previously saved for another object.
func (s *Store) SaveSnapshot(ctx context.Context, rec *storage.SnapshotRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	return s.db.Update(func(txn *badger.Txn) error {
		prev, err := readRecord(txn, rec.ID)
		switch {
		case err == nil && prev.ObjectID != rec.ObjectID:
			if err := txn.Delete(objectKey(prev.ObjectID, rec.ID)); err != nil {
				return err
			}
		case err != nil && !storage.IsNotFound(err):
			return err
		}
		if err := txn.Set(recordKey(rec.ID), raw); err != nil {
			return err
		}
		return txn.Set(objectKey(rec.ObjectID, rec.ID), nil)
	})
}

// GetSnapshot returns the record with the given ID.
func (s *Store) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *storage.SnapshotRecord
	err := s.db.View(func(txn *badger.Txn) (err error) {
		rec, err = readRecord(txn, id)
		return err
	})
	return rec, err
}

func readRecord(txn *badger.Txn, id string) (*storage.SnapshotRecord, error) {
	item, err := txn.Get(recordKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, &storage.NotFoundError{EntityType: "snapshot", ID: id}
	}
	if err != nil {
		return nil, err
	}
	rec := new(storage.SnapshotRecord)
	err = item.Value(func(val []byte) error {
		if err := json.Unmarshal(val, rec); err != nil {
			return &storage.SerializationError{Operation: "unmarshal", Cause: err}
		}
		return nil
	})
	return rec, err
}

// ListSnapshots returns the matching records oldest first. An object filter
// is served from the object index; other listings scan every record.
func (s *Store) ListSnapshots(ctx context.Context, filter *storage.SnapshotFilter) ([]*storage.SnapshotRecord, int, error) {
	var matched []*storage.SnapshotRecord
	err := s.db.View(func(txn *badger.Txn) error {
		if filter != nil && filter.ObjectID != "" {
			return s.scanObject(ctx, txn, filter, func(rec *storage.SnapshotRecord) {
				matched = append(matched, rec)
			})
		}
		return s.scanRecords(ctx, txn, filter, func(rec *storage.SnapshotRecord) {
			matched = append(matched, rec)
		})
	})
	if err != nil {
		return nil, 0, err
	}
	page, total := filter.Page(matched)
	return page, total, nil
}

func (s *Store) scanObject(ctx context.Context, txn *badger.Txn, filter *storage.SnapshotFilter, add func(*storage.SnapshotRecord)) error {
	prefix := objectPrefix(filter.ObjectID)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := string(bytes.TrimPrefix(it.Item().Key(), prefix))
		rec, err := readRecord(txn, id)
		if storage.IsNotFound(err) {
			s.log.Debug("Dangling object index entry", "object", filter.ObjectID, "snapshot", id)
			continue
		}
		if err != nil {
			return err
		}
		if filter.Match(rec) {
			add(rec)
		}
	}
	return nil
}

func (s *Store) scanRecords(ctx context.Context, txn *badger.Txn, filter *storage.SnapshotFilter, add func(*storage.SnapshotRecord)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = recordNS
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := it.Item()
		rec := new(storage.SnapshotRecord)
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, rec) }); err != nil {
			s.log.Warn("Skipping unreadable snapshot", "key", string(item.Key()), "error", err)
			continue
		}
		if filter.Match(rec) {
			add(rec)
		}
	}
	return nil
}

// DeleteSnapshot removes the record and its index entry.
func (s *Store) DeleteSnapshot(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := readRecord(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(recordKey(id)); err != nil {
			return err
		}
		return txn.Delete(objectKey(rec.ObjectID, id))
	})
}

// Close compacts the value log of an on-disk database, then closes it.
func (s *Store) Close() error {
	if !s.inMemory {
		err := s.db.RunValueLogGC(0.5)
		if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
			s.log.Debug("Value log GC skipped", "error", err)
		}
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close badger: %w", err)
	}
	return nil
}

// badgerLog forwards the database's own messages. Info is demoted to debug,
// badger is chatty on open and compaction.
type badgerLog struct{ log logger.Logger }

func (l badgerLog) Errorf(format string, args ...any) {
	l.log.Error(fmt.Sprintf(format, args...))
}

func (l badgerLog) Warningf(format string, args ...any) {
	l.log.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLog) Infof(format string, args ...any) {
	l.log.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLog) Debugf(string, ...any) {}
