package statecache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	allEntitiesKey = "ubcore:entities"

	// snapshotTTL bounds how long a snapshot that missed its refresh can be
	// served.
	snapshotTTL = 24 * time.Hour
	// tombstoneTTL outlives any fill that loaded an entity before it was
	// deleted.
	tombstoneTTL = 10 * time.Minute

	setAttempts = 3
)

func snapshotKey(id string) string {
	return "ubcore:entity:" + id
}

func tombstoneKey(id string) string {
	return "ubcore:tomb:" + id
}

// RedisStore keeps snapshots as JSON strings plus one set of all cached IDs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Set writes s unless the stored snapshot has a higher version or the entity
// was removed. The check and the write run under WATCH on both keys.
func (r *RedisStore) Set(ctx context.Context, s *Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	key, tomb := snapshotKey(s.ID), tombstoneKey(s.ID)
	write := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, tomb).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		cur, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var old Snapshot
			if json.Unmarshal(cur, &old) == nil && old.Version > s.Version {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, snapshotTTL)
			pipe.SAdd(ctx, allEntitiesKey, s.ID)
			return nil
		})
		return err
	}

	for i := 0; i < setAttempts; i++ {
		err = r.client.Watch(ctx, write, key, tomb)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

// Get returns nil, nil on a miss.
func (r *RedisStore) Get(ctx context.Context, id string) (*Snapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Snapshot
	return &s, json.Unmarshal(data, &s)
}

// Remove drops the snapshot and leaves a tombstone so a fill that loaded the
// entity before it was deleted cannot bring it back.
func (r *RedisStore) Remove(ctx context.Context, id string) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, snapshotKey(id))
	pipe.SRem(ctx, allEntitiesKey, id)
	pipe.Set(ctx, tombstoneKey(id), 1, tombstoneTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisStore) IDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, allEntitiesKey).Result()
}

// FlushAll drops every snapshot. Tombstones are left to expire.
func (r *RedisStore) FlushAll(ctx context.Context) error {
	ids, err := r.IDs(ctx)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, snapshotKey(id))
	}
	keys = append(keys, allEntitiesKey)
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
