// Package cache provides a small bounded, TTL-aware read-through cache used
// to avoid round-tripping the KV store and the relational repositories for
// hot, slowly-changing lookups such as blocklist status. Built atop the
// generic hashicorp/golang-lru/v2 cache.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type ttlEntry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a bounded LRU where entries also expire after a fixed TTL.
type TTLCache[K comparable, V any] struct {
	mu    sync.Mutex
	inner *lru.Cache[K, ttlEntry[V]]
	ttl   time.Duration
	now   func() time.Time
}

// New returns a TTLCache holding at most size entries, each valid for ttl.
func New[K comparable, V any](size int, ttl time.Duration) *TTLCache[K, V] {
	inner, err := lru.New[K, ttlEntry[V]](size)
	if err != nil {
		// Only non-positive sizes cause an error from lru.New; clamp instead
		// of propagating a constructor error through every call site.
		inner, _ = lru.New[K, ttlEntry[V]](1)
	}
	return &TTLCache[K, V]{inner: inner, ttl: ttl, now: time.Now}
}

// Get returns the cached value for key if present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero V
	e, ok := c.inner.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(e.expires) {
		c.inner.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value for key, valid for this cache's TTL from now.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, ttlEntry[V]{value: value, expires: c.now().Add(c.ttl)})
}

// Invalidate drops key from the cache, forcing the next Get to miss.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Purge drops every cached entry.
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Purge()
}
