package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestTTL(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		c := New[int](time.Minute)
		defer c.Close()

		_, found := c.Get("missing")
		assert.False(t, found)

		c.Set("a", 1)
		v, found := c.Get("a")
		assert.True(t, found)
		assert.Equal(t, 1, v)
		assert.Equal(t, 1, c.Len())

		c.Delete("a")
		_, found = c.Get("a")
		assert.False(t, found)

		c.Set("b", 2)
		c.Clear()
		assert.Equal(t, 0, c.Len())
	})

	t.Run("expiration", func(t *testing.T) {
		clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
		c := NewWithClock[string](10*time.Minute, clock.Now)

		c.Set("k", "v")
		clock.Advance(9 * time.Minute)
		_, found := c.Get("k")
		assert.True(t, found)

		clock.Advance(2 * time.Minute)
		_, found = c.Get("k")
		assert.False(t, found)
		assert.Equal(t, 1, c.Len(), "expired entries linger until swept")

		assert.Equal(t, 1, c.Sweep())
		assert.Equal(t, 0, c.Len())
	})

	t.Run("default ttl", func(t *testing.T) {
		c := NewWithClock[int](0, time.Now)
		assert.Equal(t, defaultTTL, c.ttl)
	})

	t.Run("concurrent access", func(t *testing.T) {
		c := New[int](time.Minute)
		defer c.Close()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					c.Set("key", id)
					c.Get("key")
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, c.Len())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		c := New[int](time.Minute)
		c.Close()
		c.Close()
	})
}
