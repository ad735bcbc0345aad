package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hive-discover/clip-api/internal/port"
)

// HashCache remembers content hashes known to be part of a cluster. Entries
// expire after ttl and the least recently used entry is evicted at capacity.
type HashCache struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func NewHashCache(maxSize int, ttl time.Duration) *HashCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &HashCache{
		entries: make(map[string]time.Time),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *HashCache) Contains(hash string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	added, exists := c.entries[hash]
	if !exists {
		return false
	}

	if c.now().Sub(added) > c.ttl {
		delete(c.entries, hash)
		c.removeFromOrder(hash)
		return false
	}

	c.moveToEnd(hash)
	return true
}

func (c *HashCache) Add(hash string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[hash]; exists {
		c.entries[hash] = c.now()
		c.moveToEnd(hash)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[hash] = c.now()
	c.order = append(c.order, hash)
}

func (c *HashCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *HashCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *HashCache) moveToEnd(hash string) {
	c.removeFromOrder(hash)
	c.order = append(c.order, hash)
}

func (c *HashCache) removeFromOrder(hash string) {
	for i, k := range c.order {
		if k == hash {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// CachedExistence answers existence checks from the cache before asking the
// store. Only positive answers are cached: a hash never leaves a cluster,
// while an unknown hash may be inserted at any time.
type CachedExistence struct {
	checker port.ExistenceChecker
	cache   *HashCache
}

func NewCachedExistence(checker port.ExistenceChecker, cache *HashCache) *CachedExistence {
	return &CachedExistence{
		checker: checker,
		cache:   cache,
	}
}

func (e *CachedExistence) ImageExists(ctx context.Context, hash string) (bool, error) {
	if e.cache.Contains(hash) {
		return true, nil
	}

	exists, err := e.checker.ImageExists(ctx, hash)
	if err != nil {
		return false, err
	}
	if exists {
		e.cache.Add(hash)
	}
	return exists, nil
}

// Remember records hashes that were just written as part of a cluster.
func (e *CachedExistence) Remember(hashes ...string) {
	for _, h := range hashes {
		e.cache.Add(h)
	}
}
