package cache

import (
	"sync"
	"time"
)

// Entry wraps a cached value with its absolute expiry time
type Entry[T any] struct {
	Value     T
	ExpiresAt time.Time
}

// fresh reports whether the entry is still readable at now.
// The expiry must lie strictly in the future.
func (e *Entry[T]) fresh(now time.Time) bool {
	return e.ExpiresAt.After(now)
}

// Option configures a TTLCache
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// TTLCache is an in-memory key/value store whose entries expire after a fixed TTL.
// Expired entries are evicted lazily by the read that finds them; there is no
// background sweeper and reads never extend an entry's lifetime.
// Thread-safe implementation using sync.RWMutex
type TTLCache[T any] struct {
	mu        sync.RWMutex
	entries   map[string]*Entry[T]
	ttl       time.Duration
	now       func() time.Time
	hits      uint64
	misses    uint64
	evictions uint64
}

// NewTTLCache creates a new TTLCache with the specified TTL
func NewTTLCache[T any](ttl time.Duration, opts ...Option) *TTLCache[T] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTLCache[T]{
		entries: make(map[string]*Entry[T]),
		ttl:     ttl,
		now:     o.now,
	}
}

// Get returns the value stored under key if it has not expired.
// A stale entry is removed and reported as absent.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	entry, exists := c.entries[key]
	if !exists {
		c.misses++
		return zero, false
	}
	if !entry.fresh(c.now()) {
		delete(c.entries, key)
		c.misses++
		c.evictions++
		return zero, false
	}

	c.hits++
	return entry.Value, true
}

// Set stores value under key, replacing any prior entry, with expiry now+TTL
func (c *TTLCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &Entry[T]{
		Value:     value,
		ExpiresAt: c.now().Add(c.ttl),
	}
}

// Delete removes a specific cache entry
func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, key)
}

// Clear removes all entries from the cache
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry[T])
}

// Len returns the number of stored entries, including ones that have expired
// but were not read since.
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}

// TTL returns the configured time-to-live
func (c *TTLCache[T]) TTL() time.Duration {
	return c.ttl
}

// Stats returns cache statistics
func (c *TTLCache[T]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		HitRate:   c.calculateHitRate(),
	}
}

// Stats represents cache statistics
type Stats struct {
	Size      int     `json:"size"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// calculateHitRate calculates the cache hit rate (must be called with lock held)
func (c *TTLCache[T]) calculateHitRate() float64 {
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}
