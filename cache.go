package tablekit

import (
	"context"
	"strconv"
	"time"
)

// Cache is the interface for caching query results.
// Implement it with your preferred backend (e.g. Redis, Memcached,
// in-memory). The items service uses it as an opt-in read-through cache and
// invalidates by collection prefix on every mutation.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey identifies a cached read against one collection.
type CacheKey struct {
	Collection string
	Operation  string
	Filter     string
	Sort       string
	Limit      int
	Offset     int
}

// Prefix returns the invalidation prefix covering every cached read of the
// collection.
func (k CacheKey) Prefix() string {
	return k.Collection + ":"
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	return k.Prefix() + k.Operation + ":" + k.Filter + ":" + k.Sort +
		":" + strconv.Itoa(k.Limit) + ":" + strconv.Itoa(k.Offset)
}
