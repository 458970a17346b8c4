// Package cache provides a thread-safe in-process cache with per-entry expiry.
// It replaces ad-hoc package-level maps so every cache has an owner, a TTL
// and a Close.
package cache

import (
	"sync"
	"time"
)

const defaultTTL = 15 * time.Minute

type entry[V any] struct {
	expiry time.Time
	value  V
}

// TTL is a keyed cache whose entries expire after a fixed duration.
type TTL[V any] struct {
	now       func() time.Time
	entries   map[string]entry[V]
	stopCh    chan struct{}
	ttl       time.Duration
	mu        sync.RWMutex
	closeOnce sync.Once
}

// New creates a cache with the specified TTL and starts a background sweep.
func New[V any](ttl time.Duration) *TTL[V] {
	c := NewWithClock[V](ttl, time.Now)
	go c.cleanup(sweepInterval(c.ttl))
	return c
}

// NewWithClock creates a cache driven by the supplied clock. No background
// sweep is started; expired entries are invisible to Get and removed by Sweep.
func NewWithClock[V any](ttl time.Duration, now func() time.Time) *TTL[V] {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

// Get retrieves a value if it exists and hasn't expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.entries[key]
	if !exists || c.now().After(e.expiry) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{
		value:  value,
		expiry: c.now().Add(c.ttl),
	}
}

// Delete removes a key.
func (c *TTL[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}

// Len returns the number of stored entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Sweep removes expired entries and reports how many were dropped.
func (c *TTL[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, e := range c.entries {
		if now.After(e.expiry) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Close stops the background sweep. It is safe to call more than once.
func (c *TTL[V]) Close() {
	c.closeOnce.Do(func() { close(c.stopCh) })
}

func (c *TTL[V]) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < 5*time.Minute {
		return ttl
	}
	return 5 * time.Minute
}
