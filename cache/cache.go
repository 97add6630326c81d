// Package cache keeps recently read task snapshots for a short time.
package cache

import (
	"time"

	"board-sync/domain"
)

// DefaultTTL is the maximum age of a cached snapshot.
const DefaultTTL = time.Minute

type entry struct {
	task     domain.Task
	cachedAt time.Time
}

// Cache maps task ids to snapshots. Expiry is checked on read. It is not
// safe for concurrent use.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

// New creates a Cache. A non-positive ttl selects DefaultTTL and a nil
// clock selects time.Now.
func New(ttl time.Duration, now func() time.Time) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Cache{ttl: ttl, now: now, entries: make(map[string]entry)}
}

// TTL returns the configured time to live.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the snapshot for id, evicting it when older than the TTL.
func (c *Cache) Get(id string) (domain.Task, bool) {
	e, ok := c.entries[id]
	if !ok {
		return domain.Task{}, false
	}
	if c.now().Sub(e.cachedAt) > c.ttl {
		delete(c.entries, id)
		return domain.Task{}, false
	}
	return e.task, true
}

// GetFresh is Get that also treats a snapshot older than currentVersion as
// missing and evicts it.
func (c *Cache) GetFresh(id string, currentVersion int) (domain.Task, bool) {
	t, ok := c.Get(id)
	if !ok {
		return domain.Task{}, false
	}
	if t.Version < currentVersion {
		delete(c.entries, id)
		return domain.Task{}, false
	}
	return t, true
}

// Set stores t, replacing any previous snapshot.
func (c *Cache) Set(t domain.Task) {
	c.entries[t.ID] = entry{task: t, cachedAt: c.now()}
}

// Invalidate removes the snapshot for id.
func (c *Cache) Invalidate(id string) {
	delete(c.entries, id)
}

// Len returns the number of stored snapshots, expired ones included.
func (c *Cache) Len() int { return len(c.entries) }

// Sweep drops expired snapshots and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	n := 0
	for id, e := range c.entries {
		if now.Sub(e.cachedAt) > c.ttl {
			delete(c.entries, id)
			n++
		}
	}
	return n
}
