package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTTLCache_GetSet(t *testing.T) {
	clock := newFakeClock()
	cache := NewTTLCache[string](5*time.Minute, WithClock(clock.Now))

	// Test cache miss
	_, ok := cache.Get("demo")
	assert.False(t, ok)

	// Test cache set and hit
	cache.Set("demo", "v1")
	got, ok := cache.Get("demo")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestTTLCache_Expiration(t *testing.T) {
	clock := newFakeClock()
	cache := NewTTLCache[string](300*time.Second, WithClock(clock.Now))

	cache.Set("demo", "v1")

	clock.Advance(299 * time.Second)
	_, ok := cache.Get("demo")
	assert.True(t, ok, "entry should still be fresh before the TTL elapses")

	// Expiry must be strictly in the future, so the exact boundary is stale.
	clock.Advance(time.Second)
	_, ok = cache.Get("demo")
	assert.False(t, ok)

	stats := cache.Stats()
	assert.Equal(t, 0, stats.Size, "stale entry should be evicted by the read")
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestTTLCache_ReadsDoNotExtendLifetime(t *testing.T) {
	clock := newFakeClock()
	cache := NewTTLCache[int](10*time.Second, WithClock(clock.Now))

	cache.Set("demo", 1)
	for i := 0; i < 9; i++ {
		clock.Advance(time.Second)
		_, ok := cache.Get("demo")
		require.True(t, ok)
	}

	clock.Advance(time.Second)
	_, ok := cache.Get("demo")
	assert.False(t, ok)
}

func TestTTLCache_SetOverwritesAndResetsExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := NewTTLCache[string](10*time.Second, WithClock(clock.Now))

	cache.Set("demo", "v1")
	clock.Advance(8 * time.Second)
	cache.Set("demo", "v2")
	clock.Advance(8 * time.Second)

	got, ok := cache.Get("demo")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestTTLCache_Delete(t *testing.T) {
	cache := NewTTLCache[string](time.Minute)

	cache.Set("a", "1")
	cache.Set("b", "2")

	cache.Delete("a")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	got, ok := cache.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "2", got)

	// Deleting an unknown key is a no-op
	cache.Delete("missing")
	assert.Equal(t, 1, cache.Len())
}

func TestTTLCache_Clear(t *testing.T) {
	cache := NewTTLCache[string](time.Minute)

	for i := 0; i < 5; i++ {
		cache.Set(fmt.Sprintf("project-%d", i), "m")
	}
	require.Equal(t, 5, cache.Len())

	cache.Clear()
	assert.Equal(t, 0, cache.Len())
}

func TestTTLCache_ConcurrentAccess(t *testing.T) {
	cache := NewTTLCache[int](time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("project-%d", n%5)
			cache.Set(key, n)
			cache.Get(key)
			if n%10 == 0 {
				cache.Delete(key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, cache.Len(), 5)
}
