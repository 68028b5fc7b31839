package cache

import (
	"sync"
	"time"
)

// entry pairs a cached value with the instant it stops being valid. A zero
// expiresAt means the entry never expires.
type entry struct {
	value     string
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is an in-memory implementation of the Cache interface.
// It uses a map for storage and provides thread-safe operations via RWMutex.
//
// This adapter stores values as simple strings (key-value pairs) without
// any persistence. The cache lives only for the duration of the crawling session.
//
// Expired entries are evicted lazily, on the next Get/Put that touches their
// key, rather than by a background sweep.
type MemoryCache struct {
	mu   sync.RWMutex
	data map[string]entry
}

// NewMemoryCache creates a new in-memory cache instance.
// The cache is initialized empty and ready for use.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		data: make(map[string]entry),
	}
}

// Get retrieves a value from the cache by key.
// This method is thread-safe for concurrent reads.
// Returns the cached value and true if the key exists and has not expired,
// or empty string and false otherwise.
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.RLock()
	e, exists := c.data[key]
	c.mu.RUnlock()

	if !exists {
		return "", false
	}
	if e.expired(time.Now()) {
		c.mu.Lock()
		delete(c.data, key)
		c.mu.Unlock()
		return "", false
	}
	return e.value, true
}

// Put stores a key-value pair in the cache, valid for ttl from now (or
// forever, if ttl <= 0). This method is thread-safe for concurrent writes.
// If the key already exists, the value and its expiry are overwritten.
func (c *MemoryCache) Put(key string, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	c.data[key] = entry{value: value, expiresAt: expiresAt}
}

// Clear removes all entries from the cache.
// This method is primarily useful for testing.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]entry)
}

// Size returns the number of entries in the cache, including any that have
// expired but have not yet been evicted by a Get.
// This method is primarily useful for testing and diagnostics.
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.data)
}
