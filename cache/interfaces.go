// Package cache provides the in-memory building blocks of the admin data layer:
// a TTL cache with prefix invalidation, a request coalescer, and typed cache keys.
package cache

import (
	"context"
	"time"
)

// Entry represents a cached value with its freshness metadata
type Entry[V any] struct {
	Key       string
	Value     V
	FetchedAt time.Time
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still visible at now
func (e Entry[V]) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Reader defines the interface for reading cache entries
type Reader[V any] interface {
	// Get returns the value and true if present and not expired.
	// An expired entry is evicted as a side effect.
	Get(key string) (V, bool)
}

// Writer defines the interface for writing cache entries
type Writer[V any] interface {
	// Set stores value under key, replacing any previous entry
	Set(key string, value V)
}

// Invalidator removes groups of entries after a mutating call
type Invalidator interface {
	// InvalidatePrefix removes every key starting with prefix and
	// returns how many entries were removed
	InvalidatePrefix(prefix string) int
}

// Store is the main interface that combines all cache operations
type Store[V any] interface {
	Reader[V]
	Writer[V]
	Invalidator
}

// Producer performs the underlying fetch for a key
type Producer[V any] func(ctx context.Context) (V, error)
