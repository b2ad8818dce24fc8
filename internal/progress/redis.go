package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "calsync:progress:"

// RedisStore is a Store backed by Redis, for deployments where the poller
// and the worker are separate processes. Merge-on-write is read-modify-
// write without a transaction; the reconciler is the only writer for a
// scope while it holds the run lock, so lost updates cannot occur within
// one run.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Set(ctx context.Context, key string, u Update) (Snapshot, error) {
	snap, _, err := r.Get(ctx, key)
	if err != nil {
		return Snapshot{}, err
	}
	u.apply(&snap)

	data, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode progress: %w", err)
	}
	// KeepTTL preserves an expiry already scheduled for the entry.
	if err := r.rdb.Set(ctx, redisKeyPrefix+key, data, redis.KeepTTL).Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to store progress: %w", err)
	}
	return snap, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) (Snapshot, bool, error) {
	data, err := r.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read progress: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to decode progress: %w", err)
	}
	return snap, true, nil
}

func (r *RedisStore) Clear(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to clear progress: %w", err)
	}
	return nil
}

func (r *RedisStore) ExpireAfter(ctx context.Context, key string, d time.Duration) error {
	if err := r.rdb.Expire(ctx, redisKeyPrefix+key, d).Err(); err != nil {
		return fmt.Errorf("failed to schedule progress expiry: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
