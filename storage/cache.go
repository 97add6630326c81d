package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"board-sync/domain"
	"board-sync/internal/consts"
)

type backend interface {
	LoadBoard(ctx context.Context, owner string) (domain.Snapshot, error)
	SaveTask(ctx context.Context, owner string, t domain.Task) error
	DeleteTask(ctx context.Context, owner, taskID string) error
	SaveColumn(ctx context.Context, owner string, c domain.Column) error
	DeleteColumn(ctx context.Context, owner, columnID string) error
	ReorderColumns(ctx context.Context, owner string, columnIDs []string) error
}

// Cache wraps a board store with a Redis copy of each loaded board. Any
// write evicts the owner's copy.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadBoard(ctx context.Context, owner string) (domain.Snapshot, error) {
	if snap, ok := c.loadFromCache(ctx, owner); ok {
		return snap, nil
	}
	snap, err := c.base.LoadBoard(ctx, owner)
	if err != nil {
		return domain.Snapshot{}, err
	}
	c.store(ctx, owner, snap)
	return snap, nil
}

func (c *Cache) SaveTask(ctx context.Context, owner string, t domain.Task) error {
	if err := c.base.SaveTask(ctx, owner, t); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) DeleteTask(ctx context.Context, owner, taskID string) error {
	if err := c.base.DeleteTask(ctx, owner, taskID); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) SaveColumn(ctx context.Context, owner string, col domain.Column) error {
	if err := c.base.SaveColumn(ctx, owner, col); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) DeleteColumn(ctx context.Context, owner, columnID string) error {
	if err := c.base.DeleteColumn(ctx, owner, columnID); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) ReorderColumns(ctx context.Context, owner string, columnIDs []string) error {
	if err := c.base.ReorderColumns(ctx, owner, columnIDs); err != nil {
		return err
	}
	c.evict(ctx, owner)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, owner string) (domain.Snapshot, bool) {
	if c.redis == nil {
		return domain.Snapshot{}, false
	}
	data, err := c.redis.Get(ctx, boardCacheKey(owner)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, boardCacheKey(owner)).Err()
		}
		return domain.Snapshot{}, false
	}
	var snap domain.Snapshot
	if err := sonic.Unmarshal(data, &snap); err != nil {
		_ = c.redis.Del(ctx, boardCacheKey(owner)).Err()
		return domain.Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) store(ctx context.Context, owner string, snap domain.Snapshot) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, boardCacheKey(owner), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, owner string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, boardCacheKey(owner)).Result()
}

func boardCacheKey(owner string) string {
	return consts.BoardKeyPrefix + owner
}
