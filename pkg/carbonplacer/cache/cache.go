package cache

import (
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/carbon-placement/pkg/carbonplacer/clock"
)

// Cache is a thread-safe keyed store whose entries are fresh for ttl and are
// swept once they are older than maxAge.
type Cache[T any] struct {
	data    map[string]*cacheEntry[T]
	mutex   sync.RWMutex
	ttl     time.Duration
	maxAge  time.Duration
	clock   clock.Clock
	stopCh  chan struct{}
	once    sync.Once
	metrics *metrics
}

type cacheEntry[T any] struct {
	value     T
	timestamp time.Time
	hits      int64
}

type metrics struct {
	hits   int64
	misses int64
	mutex  sync.RWMutex
}

// Option customizes a cache.
type Option[T any] func(*Cache[T])

// WithClock replaces the wall clock used for freshness checks.
func WithClock[T any](c clock.Clock) Option[T] {
	return func(cache *Cache[T]) {
		cache.clock = c
	}
}

// New creates a cache and starts its cleanup loop. Call Close to stop it.
func New[T any](ttl, maxAge time.Duration, opts ...Option[T]) *Cache[T] {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if maxAge < ttl {
		maxAge = ttl
	}

	c := &Cache[T]{
		data:    make(map[string]*cacheEntry[T]),
		ttl:     ttl,
		maxAge:  maxAge,
		clock:   clock.RealClock{},
		stopCh:  make(chan struct{}),
		metrics: &metrics{},
	}
	for _, opt := range opts {
		opt(c)
	}

	go wait.Until(c.removeExpired, ttl, c.stopCh)

	return c
}

// Get returns the value stored under key if it is younger than the TTL.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mutex.RLock()
	entry, exists := c.data[key]
	c.mutex.RUnlock()

	var zero T
	if !exists {
		c.recordMiss()
		return zero, false
	}

	age := c.clock.Since(entry.timestamp)
	if age > c.ttl {
		c.recordMiss()
		klog.V(4).InfoS("Cache entry stale", "key", key, "age", age)
		return zero, false
	}

	c.mutex.Lock()
	entry.hits++
	c.mutex.Unlock()
	c.recordHit()

	return entry.value, true
}

// Set stores value under key, stamped with the current time.
func (c *Cache[T]) Set(key string, value T) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data[key] = &cacheEntry[T]{
		value:     value,
		timestamp: c.clock.Now(),
	}
	klog.V(4).InfoS("Cached entry", "key", key)
}

// Delete drops key.
func (c *Cache[T]) Delete(key string) {
	c.mutex.Lock()
	delete(c.data, key)
	c.mutex.Unlock()
}

// GetMetrics returns cache performance metrics
func (c *Cache[T]) GetMetrics() (hits, misses int64) {
	c.metrics.mutex.RLock()
	defer c.metrics.mutex.RUnlock()
	return c.metrics.hits, c.metrics.misses
}

func (c *Cache[T]) recordHit() {
	c.metrics.mutex.Lock()
	c.metrics.hits++
	c.metrics.mutex.Unlock()
}

func (c *Cache[T]) recordMiss() {
	c.metrics.mutex.Lock()
	c.metrics.misses++
	c.metrics.mutex.Unlock()
}

func (c *Cache[T]) removeExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.clock.Now()
	for key, entry := range c.data {
		age := now.Sub(entry.timestamp)
		if age > c.maxAge {
			delete(c.data, key)
			klog.V(4).InfoS("Removed expired cache entry",
				"key", key,
				"age", age.String(),
				"hits", entry.hits)
		}
	}
}

// Close stops the cleanup loop. It is safe to call more than once.
func (c *Cache[T]) Close() {
	c.once.Do(func() { close(c.stopCh) })
}

// Clear removes all entries from the cache
func (c *Cache[T]) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.data = make(map[string]*cacheEntry[T])
	klog.V(4).Info("Cleared cache")
}

// Size returns the number of entries in the cache
func (c *Cache[T]) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.data)
}
