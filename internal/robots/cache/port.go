package cache

import "time"

// Cache defines the port interface for robots.txt result caching.
// This interface follows the port-adapter pattern, allowing different
// cache implementations to be swapped without changing the fetcher logic.
//
// The cache uses simple key-value storage (strings only) to ensure
// flexibility and avoid tight coupling to specific data structures.
// Implementations are responsible for serialization/deserialization.
//
// Every entry carries a TTL: robots.txt is a live document a site can change
// at any time, so an implementation must stop returning an entry once it has
// aged past the TTL it was stored with, rather than caching it for the life
// of the process.
type Cache interface {
	// Get retrieves a value from the cache by key.
	// Returns the cached value and true if found and not yet expired, or
	// empty string and false otherwise. This method is read-only and should
	// not modify cache state beyond lazily evicting an expired entry.
	Get(key string) (string, bool)

	// Put stores a key-value pair in the cache, valid for ttl from now.
	// ttl <= 0 means the entry never expires.
	// If the key already exists, the value and its expiry are overwritten.
	// The cache lives only for the duration of the crawling session (no persistence).
	Put(key string, value string, ttl time.Duration)
}
