package cache

import (
	"context"
	"errors"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// MemcacheTier is a SharedTier backed by one or more memcached servers.
type MemcacheTier struct {
	client *memcache.Client
}

// NewMemcacheTier creates a tier spreading keys over servers ("host:port").
func NewMemcacheTier(servers []string, timeout time.Duration) *MemcacheTier {
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	return &MemcacheTier{client: client}
}

func (m *MemcacheTier) Get(ctx context.Context, key string) ([]byte, bool, error) {
	item, err := m.client.Get(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return item.Value, true, nil
}

func (m *MemcacheTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return m.client.Set(&memcache.Item{
		Key:        key,
		Value:      value,
		Expiration: expiration(ttl),
	})
}

// expiration converts ttl to memcached seconds. Memcached reads 0 as "never",
// so a positive ttl rounds up to at least one second.
func expiration(ttl time.Duration) int32 {
	if ttl <= 0 {
		return 0
	}
	return int32((ttl + time.Second - 1) / time.Second)
}

func (m *MemcacheTier) Delete(ctx context.Context, key string) error {
	err := m.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}

// Ping checks that every server is reachable.
func (m *MemcacheTier) Ping() error {
	return m.client.Ping()
}
