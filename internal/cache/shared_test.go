package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/objectftp/internal/circuit"
)

func TestEncodeValueCompression(t *testing.T) {
	t.Parallel()

	small := map[string]string{"a": "b"}
	data, err := EncodeValue(small, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.Equal(t, formatJSON, data[0])

	large := map[string]string{"blob": strings.Repeat("listing ", 1000)}
	data, err = EncodeValue(large, DefaultCompressThreshold)
	require.NoError(t, err)
	assert.Equal(t, formatGzip, data[0])
	assert.Less(t, len(data), 4096)

	var out map[string]string
	require.NoError(t, DecodeValue(data, &out))
	assert.Equal(t, large, out)

	assert.Error(t, DecodeValue([]byte("?junk"), &out))
	assert.Error(t, DecodeValue(nil, &out))
}

func TestKeys(t *testing.T) {
	t.Parallel()

	k := ListingKey("https://auth", "alice", "/c")
	assert.True(t, strings.HasPrefix(k, "listing:"))
	assert.Equal(t, k, ListingKey("https://auth", "alice", "/c"))
	assert.NotEqual(t, k, ListingKey("https://auth", "alice", "/d"))

	tk := TokenKey("https://auth", "alice", "secret")
	assert.True(t, strings.HasPrefix(tk, "auth-token:"))
	assert.NotEqual(t, tk, TokenKey("https://auth", "alice", "other"))
	assert.NotContains(t, tk, "secret")
	assert.LessOrEqual(t, len(tk), 250, "memcache key limit")
}

func TestLRUCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clk := &clock{t: time.Now()}
	c := NewLRUCache(CacheConfig{MaxEntries: 2, Now: clk.now})
	defer c.Close()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	// "b" is now least recently used and is evicted by "c".
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)

	clk.advance(time.Second)
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok, "expired")

	require.NoError(t, c.Delete(ctx, "c"))
	assert.Equal(t, 0, c.Len())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(2), stats.Misses)
	assert.Equal(t, uint64(1), stats.Evictions)
}

type failingTier struct{ calls int }

func (f *failingTier) Get(context.Context, string) ([]byte, bool, error) {
	f.calls++
	return nil, false, assert.AnError
}
func (f *failingTier) Set(context.Context, string, []byte, time.Duration) error {
	f.calls++
	return assert.AnError
}
func (f *failingTier) Delete(context.Context, string) error {
	f.calls++
	return assert.AnError
}

func TestGuardedTier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	inner := &failingTier{}
	g := NewGuardedTier(inner, circuit.NewBreaker("shared", circuit.Config{MaxFailures: 2, Timeout: time.Hour}))

	_, _, err := g.Get(ctx, "k")
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, g.Set(ctx, "k", nil, 0), assert.AnError)
	assert.ErrorIs(t, g.Delete(ctx, "k"), circuit.ErrOpenState)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, circuit.StateOpen, g.Breaker().State())
}

func TestMemcacheTier(t *testing.T) {
	addr := os.Getenv("OBJECTFTP_TEST_MEMCACHE")
	if addr == "" {
		t.Skip("OBJECTFTP_TEST_MEMCACHE not set")
	}
	ctx := context.Background()
	m := NewMemcacheTier([]string{addr}, time.Second)
	require.NoError(t, m.Ping())

	key := ListingKey("test", "memcache", t.Name())
	require.NoError(t, m.Set(ctx, key, []byte("v"), 10*time.Second))
	v, ok, err := m.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), v)
	require.NoError(t, m.Delete(ctx, key))
	require.NoError(t, m.Delete(ctx, key))
	_, ok, err = m.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
