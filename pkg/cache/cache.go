// Package cache provides a bounded, generic key/value cache with
// per-entry expiry.
//
// Capacity eviction is delegated to an LRU list: when the cache is full
// the least recently used entry is dropped. Eviction order is approximate
// and callers must not depend on which key goes first. Expired entries
// are never returned and are removed lazily by Put or explicitly by
// EvictExpired.
//
// Cache is safe for one writer and many concurrent readers.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// NoExpiry can be passed as ttl to keep an entry until it is evicted for
// capacity.
const NoExpiry time.Duration = 0

type entry[V any] struct {
	value     V
	expiresAt time.Time // zero means no expiry
}

func (e entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Cache is a bounded TTL cache.
type Cache[K comparable, V any] struct {
	mu         sync.RWMutex
	items      *lru.Cache[K, entry[V]]
	maxEntries int
	now        func() time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used to evaluate expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates a cache holding at most maxEntries live entries.
// Returns an error if maxEntries is not positive.
func New[K comparable, V any](maxEntries int, opts ...Option) (*Cache[K, V], error) {
	if maxEntries <= 0 {
		return nil, fmt.Errorf("cache: maxEntries must be positive, got %d", maxEntries)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	items, err := lru.New[K, entry[V]](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create lru: %w", err)
	}

	return &Cache[K, V]{
		items:      items,
		maxEntries: maxEntries,
		now:        o.now,
	}, nil
}

// Get returns the value stored for key if present and not expired.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items.Get(key)
	if !ok || e.expired(c.now()) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores value under key. A ttl <= 0 keeps the entry until it is
// evicted for capacity. Expired entries are swept before inserting so
// they do not push live entries out.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	if !c.items.Contains(key) && c.items.Len() >= c.maxEntries {
		c.evictExpiredLocked(now)
	}
	c.items.Add(key, e)
}

// Update atomically replaces the value for key with the result of fn.
// fn receives the current live value (if any) and returns the new value
// and whether to store it. It is used to enforce ordering rules such as
// "never replace a newer value with an older one".
func (c *Cache[K, V]) Update(key K, ttl time.Duration, fn func(current V, ok bool) (V, bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var current V
	e, ok := c.items.Peek(key)
	if ok && !e.expired(now) {
		current = e.value
	} else {
		ok = false
	}

	next, store := fn(current, ok)
	if !store {
		return false
	}

	ne := entry[V]{value: next}
	if ttl > 0 {
		ne.expiresAt = now.Add(ttl)
	}
	c.items.Add(key, ne)
	return true
}

// Remove deletes key from the cache.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
}

// EvictExpired removes every expired entry and returns how many were removed.
func (c *Cache[K, V]) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictExpiredLocked(c.now())
}

func (c *Cache[K, V]) evictExpiredLocked(now time.Time) int {
	removed := 0
	for _, k := range c.items.Keys() {
		if e, ok := c.items.Peek(k); ok && e.expired(now) {
			c.items.Remove(k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries held, including expired entries not
// yet swept.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items.Len()
}

// MaxEntries returns the configured capacity.
func (c *Cache[K, V]) MaxEntries() int {
	return c.maxEntries
}

// Purge removes all entries.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Purge()
}
