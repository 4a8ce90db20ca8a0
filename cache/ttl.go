package cache

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is the freshness window used when no TTL option is given
const DefaultTTL = 5 * time.Minute

// TTL is a goroutine-safe map of values with a fixed freshness window.
// Expired entries are evicted lazily on lookup or by PurgeExpired.
type TTL[V any] struct {
	mu    sync.Mutex
	items map[string]Entry[V]
	ttl   time.Duration
	now   func() time.Time
}

// Option configures a TTL cache
type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the freshness window. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// NewTTL creates an empty cache
func NewTTL[V any](opts ...Option) *TTL[V] {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &TTL[V]{
		items: make(map[string]Entry[V]),
		ttl:   o.ttl,
		now:   o.now,
	}
}

// Get returns the value for key if it is still fresh
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if !e.Fresh(c.now()) {
		delete(c.items, key)
		return zero, false
	}
	return e.Value, true
}

// Lookup is like Get but returns the whole entry
func (c *TTL[V]) Lookup(key string) (Entry[V], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return Entry[V]{}, false
	}
	if !e.Fresh(c.now()) {
		delete(c.items, key)
		return Entry[V]{}, false
	}
	return e, true
}

// Set stores value with expiresAt = now + TTL
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.items[key] = Entry[V]{
		Key:       key,
		Value:     value,
		FetchedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// Delete removes key. Returns true if it was stored, fresh or not.
func (c *TTL[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.items[key]; !ok {
		return false
	}
	delete(c.items, key)
	return true
}

// InvalidatePrefix removes every key that starts with prefix
func (c *TTL[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key := range c.items {
		if strings.HasPrefix(key, prefix) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// PurgeExpired drops every expired entry and returns how many were removed
func (c *TTL[V]) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for key, e := range c.items {
		if !e.Fresh(now) {
			delete(c.items, key)
			n++
		}
	}
	return n
}

// Keys returns the fresh keys in sorted order
func (c *TTL[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	keys := make([]string, 0, len(c.items))
	for key, e := range c.items {
		if e.Fresh(now) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Len counts stored entries, including expired ones not yet evicted
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries
func (c *TTL[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]Entry[V])
}

// TTL returns the configured freshness window
func (c *TTL[V]) TTL() time.Duration {
	return c.ttl
}

var _ Store[any] = (*TTL[any])(nil)
