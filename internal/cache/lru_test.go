package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCacheGetSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewLRUCache(CacheConfig{MaxEntries: 10})
	defer c.Close()

	_, found, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	value := []byte("listing")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "listing", string(got), "stored value must not alias the caller's slice")

	require.NoError(t, c.Delete(ctx, "k"))
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
}

func TestLRUCacheEviction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewLRUCache(CacheConfig{MaxEntries: 3})
	defer c.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("k%d", i), []byte{byte(i)}, 0))
	}
	// Touch k0 so k1 becomes the least recently used.
	_, _, _ = c.Get(ctx, "k0")
	require.NoError(t, c.Set(ctx, "k3", []byte{3}, 0))

	_, found, _ := c.Get(ctx, "k1")
	assert.False(t, found)
	for _, k := range []string{"k0", "k2", "k3"} {
		_, found, _ := c.Get(ctx, k)
		assert.True(t, found, k)
	}
	assert.Equal(t, 3, c.Len())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestLRUCacheTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	c := NewLRUCache(CacheConfig{MaxEntries: 10, Now: clk.now})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "token", []byte("t"), 10*time.Second))
	clk.advance(9 * time.Second)
	_, found, _ := c.Get(ctx, "token")
	assert.True(t, found)

	clk.advance(time.Second)
	_, found, _ = c.Get(ctx, "token")
	assert.False(t, found, "entry expires exactly at its TTL")
	assert.Equal(t, 0, c.Len())
}

func TestLRUCacheStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := NewLRUCache(CacheConfig{})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "a")
	_, _, _ = c.Get(ctx, "b")
	_, _, _ = c.Get(ctx, "c")

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.InDelta(t, 0.5, stats.HitRate, 1e-9)
}

func TestLRUCacheCloseIdempotent(t *testing.T) {
	t.Parallel()
	c := NewLRUCache(CacheConfig{CleanupInterval: time.Millisecond})
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}
