package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// LRUCache is an in-process SharedTier: a thread-safe LRU with per-entry TTL. It
// lets sessions of one process share listings and tokens without memcached.
type LRUCache struct {
	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List

	config CacheConfig
	stats  Stats

	stop     chan struct{}
	stopOnce sync.Once
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// Now is the clock used for expiry; nil means time.Now.
	Now func() time.Time `yaml:"-"`
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Entries   int     `json:"entries"`
	HitRate   float64 `json:"hit_rate"`
}

type cacheItem struct {
	key     string
	value   []byte
	expires time.Time
}

// NewLRUCache creates a new LRU cache. When CleanupInterval is positive a
// goroutine drops expired entries until Close is called.
func NewLRUCache(config CacheConfig) *LRUCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	c := &LRUCache{
		items:  make(map[string]*list.Element),
		order:  list.New(),
		config: config,
		stop:   make(chan struct{}),
	}
	if config.CleanupInterval > 0 {
		go c.cleanupExpired(config.CleanupInterval)
	}
	return c
}

// Get retrieves a copy of the value stored under key.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, false, nil
	}
	item := elem.Value.(*cacheItem)
	if c.expired(item) {
		c.removeElement(elem)
		c.stats.Misses++
		return nil, false, nil
	}

	c.order.MoveToFront(elem)
	c.stats.Hits++
	return append([]byte(nil), item.value...), true, nil
}

// Set stores value under key for ttl. A ttl <= 0 never expires.
func (c *LRUCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expires time.Time
	if ttl > 0 {
		expires = c.config.Now().Add(ttl)
	}
	value = append([]byte(nil), value...)

	if elem, ok := c.items[key]; ok {
		item := elem.Value.(*cacheItem)
		item.value = value
		item.expires = expires
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[key] = c.order.PushFront(&cacheItem{key: key, value: value, expires: expires})
	for len(c.items) > c.config.MaxEntries {
		c.removeElement(c.order.Back())
		c.stats.Evictions++
	}
	return nil
}

// Delete removes key.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns cache statistics
func (c *LRUCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Close stops the cleanup goroutine.
func (c *LRUCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *LRUCache) expired(item *cacheItem) bool {
	return !item.expires.IsZero() && !c.config.Now().Before(item.expires)
}

func (c *LRUCache) removeElement(elem *list.Element) {
	item := elem.Value.(*cacheItem)
	c.order.Remove(elem)
	delete(c.items, item.key)
}

func (c *LRUCache) cleanupExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			for elem := c.order.Back(); elem != nil; {
				prev := elem.Prev()
				if c.expired(elem.Value.(*cacheItem)) {
					c.removeElement(elem)
				}
				elem = prev
			}
			c.mu.Unlock()
		}
	}
}
