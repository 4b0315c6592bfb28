package cache

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Sweeper is implemented by every cache the cleanup scheduler purges
type Sweeper interface {
	Name() string
	DeleteExpired() int
}

// Cache is a named TTL cache. Expired entries are invisible to Get but are
// only removed by DeleteExpired; no background janitor runs.
type Cache[K comparable, V any] struct {
	name  string
	ttl   time.Duration
	items *ttlcache.Cache[K, V]

	// serializes removals so the eviction counter delta in DeleteExpired
	// only covers expired entries
	evictMu sync.Mutex
}

// New creates a cache whose entries live for ttl
func New[K comparable, V any](name string, ttl time.Duration) *Cache[K, V] {
	items := ttlcache.New[K, V](
		ttlcache.WithTTL[K, V](ttl),
		// entries expire a fixed time after they were written
		ttlcache.WithDisableTouchOnHit[K, V](),
	)
	return &Cache[K, V]{name: name, ttl: ttl, items: items}
}

// Name identifies the cache in logs and metrics
func (c *Cache[K, V]) Name() string {
	return c.name
}

// TTL returns the default entry lifetime
func (c *Cache[K, V]) TTL() time.Duration {
	return c.ttl
}

// Get returns the live value for key
func (c *Cache[K, V]) Get(key K) (V, bool) {
	item := c.items.Get(key)
	if item == nil {
		var zero V
		return zero, false
	}
	return item.Value(), true
}

// Set stores value under key with the default TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
}

// GetOrSet returns the live value for key, storing value first if there is
// none. The boolean reports whether the value was already present.
func (c *Cache[K, V]) GetOrSet(key K, value V) (V, bool) {
	item, found := c.items.GetOrSet(key, value)
	return item.Value(), found
}

// Delete removes key
func (c *Cache[K, V]) Delete(key K) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()
	c.items.Delete(key)
}

// Len returns the number of live entries. Expired entries still awaiting
// DeleteExpired are not counted.
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

// DeleteExpired removes every entry past its deadline and returns how many
// were removed
func (c *Cache[K, V]) DeleteExpired() int {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	before := c.items.Metrics().Evictions
	c.items.DeleteExpired()
	return int(c.items.Metrics().Evictions - before)
}
