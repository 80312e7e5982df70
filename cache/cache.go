package cache

import (
	"sync"

	"github.com/sandboxfirst/uom/log"
)

// Cache is a generic, concurrency-safe in-memory map keyed by string. It
// backs both the orchestrator's job table (Cache[*Job]) and the pattern
// cache's hot-fingerprint layer in front of Postgres (Cache[*ProcessingPattern]).
type Cache[T interface{}] struct {
	cache map[string]T
	mutex sync.Mutex
}

func New[T interface{}]() *Cache[T] {
	return &Cache[T]{
		cache: make(map[string]T),
	}
}

func (c *Cache[T]) Remove(requestID, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cache, key)
	log.Log(requestID, "removing from cache", "key", key)
}

func (c *Cache[T]) Get(key string) T {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	value, ok := c.cache[key]
	if ok {
		return value
	}
	var zero T
	return zero
}

// GetOK is like Get but also reports whether key was present, so callers
// can distinguish a stored zero value from a miss.
func (c *Cache[T]) GetOK(key string) (T, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	value, ok := c.cache[key]
	return value, ok
}

func (c *Cache[T]) Store(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cache[key] = value
}

// Len returns the number of entries currently held.
func (c *Cache[T]) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache)
}

// Range calls f for every entry, stopping early if f returns false. f is
// called while the cache's lock is held, so it must not call back into
// the same Cache.
func (c *Cache[T]) Range(f func(key string, value T) bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for k, v := range c.cache {
		if !f(k, v) {
			return
		}
	}
}

func (c *Cache[T]) UnittestIntrospection() *map[string]T {
	return &c.cache
}
