package registry

import (
	"sync"
	"time"
)

// Cache keeps descriptor lookups around so a throttled describe can fall back
// to the last good answer
type Cache[V any] struct {
	data  map[string]*cacheEntry[V]
	ttl   time.Duration
	mutex sync.Mutex
	now   func() time.Time
}

type cacheEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func NewCache[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		data: make(map[string]*cacheEntry[V]),
		ttl:  ttl,
		now:  time.Now,
	}
}

func (c *Cache[V]) Get(key string) (V, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var zero V
	entry, exists := c.data[key]
	if !exists {
		return zero, false
	}

	if c.now().After(entry.expiresAt) {
		delete(c.data, key)
		return zero, false
	}

	return entry.value, true
}

func (c *Cache[V]) Set(key string, value V) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry[V]{
		value:     value,
		expiresAt: c.now().Add(c.ttl),
	}
}
