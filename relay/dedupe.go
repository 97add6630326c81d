package relay

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"board-sync/internal/consts"
)

// Deduper reports whether an event id is seen for the first time.
type Deduper interface {
	// Add records the id and returns true if it was newly added.
	Add(ctx context.Context, owner, id string) (bool, error)
	// Remove forgets the id so a failed publish can be retried.
	Remove(ctx context.Context, owner, id string) error
}

// RedisDeduper stores published event ids in Redis so every relay instance
// drops repeats within the TTL.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, id string) string {
	return consts.DedupeKeyPrefix + owner + ":" + id
}

// Add records the id if it does not already exist.
func (r *RedisDeduper) Add(ctx context.Context, owner, id string) (bool, error) {
	return r.client.SetNX(ctx, r.key(owner, id), 1, r.ttl).Result()
}

// Remove deletes a recorded id.
func (r *RedisDeduper) Remove(ctx context.Context, owner, id string) error {
	return r.client.Del(ctx, r.key(owner, id)).Err()
}
