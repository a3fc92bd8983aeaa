// Package cache provides the in-process TTL cache used for upstream lookups
// (settings schemas, Nova Poshta directories) and capability sets.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/runferry/portal/internal/config"
)

// HitRecorder receives cache hit and miss events, labelled by lookup ID.
// *observability.Metrics satisfies it.
type HitRecorder interface {
	RecordLookupCacheHit(lookupID string)
	RecordLookupCacheMiss(lookupID string)
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTL is a bounded map whose entries expire after a fixed duration. When the
// map is full, expired entries are swept before inserting; if it is still
// full the insert evicts the entry closest to expiry.
type TTL[V any] struct {
	name       string
	ttl        time.Duration
	maxEntries int
	recorder   HitRecorder
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]entry[V]
}

// New creates a cache. Zero TTL defaults to 5 minutes and zero MaxEntries
// to 1000. The recorder may be nil.
func New[V any](name string, cfg config.CacheConfig, recorder HitRecorder) *TTL[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxEntries := cfg.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &TTL[V]{
		name:       name,
		ttl:        ttl,
		maxEntries: maxEntries,
		recorder:   recorder,
		now:        time.Now,
		entries:    make(map[string]entry[V]),
	}
}

// Get returns the cached value if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expiresAt) {
		c.record(false)
		var zero V
		return zero, false
	}
	c.record(true)
	return e.value, true
}

// Put stores value under key for the cache TTL.
func (c *TTL[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictExpired()
		if len(c.entries) >= c.maxEntries {
			c.evictOldest()
		}
	}
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Delete removes key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidatePrefix removes every key starting with prefix.
func (c *TTL[V]) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *TTL[V]) evictExpired() {
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// evictOldest removes the entry closest to expiry. Must be called with mu held.
func (c *TTL[V]) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, v := range c.entries {
		if oldestKey == "" || v.expiresAt.Before(oldest) {
			oldestKey, oldest = k, v.expiresAt
		}
	}
	delete(c.entries, oldestKey)
}

func (c *TTL[V]) record(hit bool) {
	if c.recorder == nil {
		return
	}
	if hit {
		c.recorder.RecordLookupCacheHit(c.name)
	} else {
		c.recorder.RecordLookupCacheMiss(c.name)
	}
}
