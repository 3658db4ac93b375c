package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const snapshotPrefix = "discovery-console"

// snapshot is the Redis envelope of a fetched view
type snapshot struct {
	FetchedAt time.Time       `json:"fetched_at"`
	Data      json.RawMessage `json:"data"`
}

// SnapshotStore shares fetched views between replicas through Redis. Errors
// are logged and treated as misses; Redis is never required for correctness.
type SnapshotStore struct {
	redis  redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

// NewSnapshotStore creates a Redis tier. ttl bounds how long an unused
// snapshot survives.
func NewSnapshotStore(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *SnapshotStore {
	return &SnapshotStore{redis: client, ttl: ttl, logger: logger}
}

func snapshotKey(key string) string {
	return fmt.Sprintf("%s:view:%s", snapshotPrefix, key)
}

func viewIndexKey(name View) string {
	return fmt.Sprintf("%s:view-keys:%s", snapshotPrefix, name)
}

// Save stores a fetched value
func (s *SnapshotStore) Save(ctx context.Context, key Key, value interface{}, fetchedAt time.Time) {
	data, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("Failed to encode view snapshot", zap.String("key", key.String()), zap.Error(err))
		return
	}
	payload, err := json.Marshal(snapshot{FetchedAt: fetchedAt, Data: data})
	if err != nil {
		return
	}

	k := key.String()
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, snapshotKey(k), payload, s.ttl)
	pipe.SAdd(ctx, viewIndexKey(key.Name), k)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.Warn("Failed to store view snapshot", zap.String("key", k), zap.Error(err))
	}
}

// Load decodes a stored value into out and returns when it was fetched
func (s *SnapshotStore) Load(ctx context.Context, key string, out interface{}) (time.Time, bool) {
	raw, err := s.redis.Get(ctx, snapshotKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("Failed to read view snapshot", zap.String("key", key), zap.Error(err))
		}
		return time.Time{}, false
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return time.Time{}, false
	}
	if err := json.Unmarshal(snap.Data, out); err != nil {
		return time.Time{}, false
	}
	return snap.FetchedAt, true
}

// Purge deletes every snapshot of the named views
func (s *SnapshotStore) Purge(ctx context.Context, names ...View) {
	for _, name := range names {
		index := viewIndexKey(name)
		keys, err := s.redis.SMembers(ctx, index).Result()
		if err != nil {
			s.logger.Warn("Failed to list view snapshots", zap.String("view", string(name)), zap.Error(err))
			continue
		}

		toDelete := make([]string, 0, len(keys)+1)
		for _, k := range keys {
			toDelete = append(toDelete, snapshotKey(k))
		}
		toDelete = append(toDelete, index)
		if err := s.redis.Del(ctx, toDelete...).Err(); err != nil {
			s.logger.Warn("Failed to purge view snapshots", zap.String("view", string(name)), zap.Error(err))
		}
	}
}
