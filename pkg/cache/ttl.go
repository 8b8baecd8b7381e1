// Package cache holds small in-process caches for gateway lookups.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	updatedAt time.Time
}

// TTL caches values per key for a fixed time.
type TTL[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
	ttl   time.Duration
	now   func() time.Time
}

// NewTTL creates a cache whose entries expire after ttl. ttl <= 0 disables caching.
func NewTTL[V any](ttl time.Duration) *TTL[V] {
	return &TTL[V]{items: make(map[string]entry[V]), ttl: ttl, now: time.Now}
}

// Set stores value under key.
func (c *TTL[V]) Set(key string, value V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: value, updatedAt: c.now()}
	c.mu.Unlock()
}

// Get returns the value under key if it has not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.updatedAt) >= c.ttl {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Len returns the number of stored entries, expired ones included.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *TTL[V]) Cleanup() int {
	cutoff := c.now().Add(-c.ttl)
	removed := 0
	c.mu.Lock()
	for k, e := range c.items {
		if !e.updatedAt.After(cutoff) {
			delete(c.items, k)
			removed++
		}
	}
	c.mu.Unlock()
	return removed
}
