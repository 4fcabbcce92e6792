// Package cache is a size-bounded, expiring in-memory cache with LRU eviction.
// Derived from github.com/patrickmn/go-cache.
package cache

import (
	"runtime"
	"sync"
	"time"
)

const (
	// NoExpiration marks items that never expire.
	NoExpiration time.Duration = -1
	// DefaultExpiration uses the expiration given to New.
	DefaultExpiration time.Duration = 0
)

type item[V any] struct {
	value      V
	expiration int64
	lastUsed   int64
}

func (it *item[V]) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

type Cache[V any] struct {
	*cache[V]
}

type cache[V any] struct {
	mu                sync.Mutex
	items             map[string]*item[V]
	defaultExpiration time.Duration
	size              int
	stop              chan struct{}
}

// New returns a cache holding at most size items (unbounded if size < 1).
// Expired items are purged every cleanupInterval when it is positive.
func New[V any](defaultExpiration, cleanupInterval time.Duration, size int) *Cache[V] {
	if defaultExpiration == DefaultExpiration {
		defaultExpiration = NoExpiration
	}
	c := &cache[V]{
		items:             make(map[string]*item[V]),
		defaultExpiration: defaultExpiration,
		size:              size,
	}
	C := &Cache[V]{c}
	if cleanupInterval > 0 {
		c.stop = make(chan struct{})
		go c.janitor(cleanupInterval)
		// the janitor holds c, not C: once C is unreachable the finalizer stops it
		runtime.SetFinalizer(C, func(C *Cache[V]) { close(C.stop) })
	}
	return C
}

// Set adds or replaces an item. When the cache is full the least recently used
// (or any expired) item is evicted.
func (c *cache[V]) Set(k string, v V, d time.Duration) {
	if d == DefaultExpiration {
		d = c.defaultExpiration
	}
	now := time.Now().UnixNano()
	var exp int64
	if d > 0 {
		exp = now + int64(d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, found := c.items[k]; !found && c.size > 0 && len(c.items) >= c.size {
		delete(c.items, c.victim(now))
	}
	c.items[k] = &item[V]{value: v, expiration: exp, lastUsed: now}
}

// victim picks an expired item if any, otherwise the least recently used.
func (c *cache[V]) victim(now int64) string {
	key := ""
	oldest := int64(-1)
	for k, it := range c.items {
		if it.expired(now) {
			return k
		}
		if oldest < 0 || it.lastUsed < oldest {
			key = k
			oldest = it.lastUsed
		}
	}
	return key
}

// Get returns the item and true if present and not expired.
func (c *cache[V]) Get(k string) (V, bool) {
	var zero V
	now := time.Now().UnixNano()

	c.mu.Lock()
	defer c.mu.Unlock()
	it, found := c.items[k]
	if !found || it.expired(now) {
		return zero, false
	}
	it.lastUsed = now
	return it.value, true
}

func (c *cache[V]) Delete(k string) {
	c.mu.Lock()
	delete(c.items, k)
	c.mu.Unlock()
}

func (c *cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *cache[V]) DeleteExpired() {
	now := time.Now().UnixNano()
	c.mu.Lock()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

func (c *cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}
