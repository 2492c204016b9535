// Package redis provides a Redis-based implementation of the storage interface.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/IRCAD/sight-sub083/pkg/logger"
	"github.com/IRCAD/sight-sub083/pkg/storage"
)

// Config holds configuration for RedisStorage.
type Config struct {
	// KeyPrefix is the Redis key prefix.
	KeyPrefix string

	// TTL expires snapshots after the given duration. Zero keeps them.
	TTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "sight:snapshot:",
	}
}

// RedisStorage implements the Storage interface on Redis.
//
// Each snapshot is a JSON string under "<prefix>data:<id>". The sorted set
// "<prefix>index" orders snapshot IDs by creation time. Index members whose
// data expired are pruned while listing.
type RedisStorage struct {
	client   goredis.Cmdable
	config   *Config
	log      logger.Logger
	indexKey string
}

// NewRedisStorage creates a Redis storage on top of client.
func NewRedisStorage(client goredis.Cmdable, config *Config, log logger.Logger) (*RedisStorage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	return &RedisStorage{
		client:   client,
		config:   config,
		log:      logger.OrComponent(log, "storage.redis"),
		indexKey: config.KeyPrefix + "index",
	}, nil
}

// NewClient creates a Redis client from the given options.
func NewClient(opts *goredis.Options) *goredis.Client {
	return goredis.NewClient(opts)
}

// Ping checks if the Redis connection is healthy.
func (r *RedisStorage) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	return nil
}

func (r *RedisStorage) dataKey(id string) string {
	return r.config.KeyPrefix + "data:" + id
}

// SaveSnapshot saves a snapshot and indexes it by creation time.
func (r *RedisStorage) SaveSnapshot(ctx context.Context, rec *storage.SnapshotRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return &storage.SerializationError{Operation: "marshal", Cause: err}
	}

	if err := r.client.Set(ctx, r.dataKey(rec.ID), data, r.config.TTL).Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	score := float64(rec.CreatedAt.UnixNano())
	if err := r.client.ZAdd(ctx, r.indexKey, goredis.Z{Score: score, Member: rec.ID}).Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	return nil
}

// GetSnapshot retrieves a snapshot by ID.
func (r *RedisStorage) GetSnapshot(ctx context.Context, id string) (*storage.SnapshotRecord, error) {
	raw, err := r.client.Get(ctx, r.dataKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, &storage.NotFoundError{EntityType: "snapshot", ID: id}
		}
		return nil, &storage.StorageUnavailableError{Cause: err}
	}

	var rec storage.SnapshotRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &storage.SerializationError{Operation: "unmarshal", Cause: err}
	}
	return &rec, nil
}

// ListSnapshots lists snapshots oldest first with optional filtering and
// pagination.
func (r *RedisStorage) ListSnapshots(ctx context.Context, filter *storage.SnapshotFilter) ([]*storage.SnapshotRecord, int, error) {
	ids, err := r.client.ZRange(ctx, r.indexKey, 0, -1).Result()
	if err != nil {
		return nil, 0, &storage.StorageUnavailableError{Cause: err}
	}

	var matched []*storage.SnapshotRecord
	var stale []any
	for _, id := range ids {
		rec, err := r.GetSnapshot(ctx, id)
		switch {
		case storage.IsNotFound(err):
			stale = append(stale, id)
			continue
		case err != nil:
			return nil, 0, err
		}
		if filter.Match(rec) {
			matched = append(matched, rec)
		}
	}

	if len(stale) > 0 {
		if err := r.client.ZRem(ctx, r.indexKey, stale...).Err(); err != nil {
			r.log.Warn("Failed to prune expired snapshots", "count", len(stale), "error", err)
		}
	}

	page, total := filter.Page(matched)
	return page, total, nil
}

// DeleteSnapshot deletes a snapshot and its index entry.
func (r *RedisStorage) DeleteSnapshot(ctx context.Context, id string) error {
	n, err := r.client.Del(ctx, r.dataKey(id)).Result()
	if err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	if err := r.client.ZRem(ctx, r.indexKey, id).Err(); err != nil {
		return &storage.StorageUnavailableError{Cause: err}
	}
	if n == 0 {
		return &storage.NotFoundError{EntityType: "snapshot", ID: id}
	}
	return nil
}

// Close closes the client when it owns a connection pool.
func (r *RedisStorage) Close() error {
	if c, ok := r.client.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
