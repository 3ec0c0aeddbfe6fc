package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

func newTestCache(maxEntries int, ttl time.Duration) (*Cache, *testclock.FakeClock) {
	clk := testclock.NewFakeClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return New(maxEntries, ttl, clk), clk
}

func TestSetThenGet(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("bin-abc", []byte("stl"))

	data, ok := c.Get("bin-abc")
	require.True(t, ok)
	assert.Equal(t, []byte("stl"), data)
}

func TestGetMissing(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("k", []byte("one"))
	c.Set("k", []byte("two"))

	data, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("two"), data)
	assert.Equal(t, 1, c.Len())
}

func TestEvictsLeastRecentlyInserted(t *testing.T) {
	c, _ := newTestCache(3, time.Hour)

	for i := range 4 {
		c.Set(fmt.Sprintf("k%d", i), []byte("x"))
	}

	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest key should be evicted")
	for i := 1; i < 4; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		assert.True(t, ok, "k%d should survive", i)
	}
	assert.Equal(t, 3, c.Len())
}

func TestEvictionFollowsAccessOrder(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)

	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))
	_, _ = c.Get("a")
	c.Set("c", []byte("c"))

	_, ok := c.Get("b")
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
}

func TestSetRefreshesRecency(t *testing.T) {
	c, _ := newTestCache(2, time.Hour)

	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))
	c.Set("a", []byte("a2"))
	c.Set("c", []byte("c"))

	_, ok := c.Get("b")
	assert.False(t, ok)
	data, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, []byte("a2"), data)
}

func TestExpiredEntryIsAbsentAndRemoved(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)

	c.Set("k", []byte("v"))
	clk.Step(time.Minute + time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestEntryAtExactTTLIsVisible(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)

	c.Set("k", []byte("v"))
	clk.Step(time.Minute)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestSetRefreshesTimestamp(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)

	c.Set("k", []byte("v"))
	clk.Step(50 * time.Second)
	c.Set("k", []byte("v"))
	clk.Step(50 * time.Second)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestGetDoesNotRefreshTimestamp(t *testing.T) {
	c, clk := newTestCache(10, time.Minute)

	c.Set("k", []byte("v"))
	clk.Step(50 * time.Second)
	_, _ = c.Get("k")
	clk.Step(50 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestClear(t *testing.T) {
	c, _ := newTestCache(10, time.Hour)

	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))
	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestDefaultsForInvalidBounds(t *testing.T) {
	c := New(0, 0, nil)

	for i := range DefaultMaxEntries + 5 {
		c.Set(fmt.Sprintf("k%d", i), []byte("x"))
	}
	assert.Equal(t, DefaultMaxEntries, c.Len())
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(16, time.Hour)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%20)
			c.Set(key, []byte(key))
			if data, ok := c.Get(key); ok {
				assert.Equal(t, []byte(key), data)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 16)
}
