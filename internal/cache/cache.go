package cache

import (
	"sync"
	"time"
)

// Entry holds a cached value with expiration
type Entry[V any] struct {
	Value      V
	Expiration time.Time
}

// TTLCache is a thread-safe in-memory cache with per-entry TTL
type TTLCache[V any] struct {
	mu    sync.Mutex
	items map[string]Entry[V]
	now   func() time.Time
}

// New creates a new cache instance
func New[V any]() *TTLCache[V] {
	return &TTLCache[V]{
		items: make(map[string]Entry[V]),
		now:   time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (c *TTLCache[V]) WithClock(now func() time.Time) *TTLCache[V] {
	c.now = now
	return c
}

// Get retrieves a value from cache if it exists and hasn't expired
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, exists := c.items[key]
	if !exists {
		return zero, false
	}
	if c.now().After(entry.Expiration) {
		delete(c.items, key)
		return zero, false
	}
	return entry.Value, true
}

// Set stores a value in cache with the given TTL
func (c *TTLCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry[V]{
		Value:      value,
		Expiration: c.now().Add(ttl),
	}
}

// Take returns a live value and removes it in the same critical section, so a
// key can be consumed at most once.
func (c *TTLCache[V]) Take(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	entry, exists := c.items[key]
	if !exists {
		return zero, false
	}
	delete(c.items, key)
	if c.now().After(entry.Expiration) {
		return zero, false
	}
	return entry.Value, true
}

// Delete removes a key from cache
func (c *TTLCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Prune drops expired entries and returns how many were removed.
func (c *TTLCache[V]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.items {
		if now.After(entry.Expiration) {
			delete(c.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, including expired ones not yet pruned.
func (c *TTLCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}
