package ttlcache

import (
	"sync"
	"time"
)

// Entry is a cached value with its freshness window.
type Entry[V any] struct {
	Value     V
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still within its TTL at now.
func (e Entry[V]) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Cache maps keys to entries.
type Cache[K comparable, V any] struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.RWMutex
	items map[K]Entry[V]
}

// New creates a cache with a default TTL. now supplies the current time; nil
// means time.Now.
func New[K comparable, V any](ttl time.Duration, now func() time.Time) *Cache[K, V] {
	if now == nil {
		now = time.Now
	}
	return &Cache[K, V]{
		ttl:   ttl,
		now:   now,
		items: make(map[K]Entry[V]),
	}
}

// Get returns the value for key if it is fresh.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	if !ok || !e.Fresh(c.now()) {
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Peek returns the entry for key whether or not it is fresh.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.items[key]
	return e, ok
}

// Set stores value under key with the default TTL.
func (c *Cache[K, V]) Set(key K, value V) Entry[V] {
	return c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key with an explicit TTL. A non-positive ttl
// falls back to the default.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) Entry[V] {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	e := Entry[V]{Value: value, FetchedAt: now, ExpiresAt: now.Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = e
	return e
}

// Invalidate marks the entry for key stale without discarding its value.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[key]; ok {
		e.ExpiresAt = e.FetchedAt
		c.items[key] = e
	}
}

// Delete removes key entirely.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len returns the number of entries, fresh or stale.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
