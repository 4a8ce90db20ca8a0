package cache

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Coalescer merges concurrent fetches for the same key into one call.
// Every caller joined to a call receives its outcome, success or failure.
// Once the call settles the key is released, so the next caller starts
// a fresh fetch instead of reusing a settled result.
type Coalescer[V any] struct {
	group singleflight.Group

	mu       sync.Mutex
	inflight map[string]int
}

// NewCoalescer creates an empty coalescer
func NewCoalescer[V any]() *Coalescer[V] {
	return &Coalescer[V]{inflight: make(map[string]int)}
}

// FetchOnce runs producer for key unless a call for key is already in
// flight, in which case it waits for that call. shared reports whether
// the result was delivered to more than one caller.
//
// The producer runs with ctx detached from cancellation: a caller giving
// up returns ctx.Err() but does not abort the fetch for the others.
func (c *Coalescer[V]) FetchOnce(ctx context.Context, key string, producer Producer[V]) (v V, shared bool, err error) {
	detached := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		c.track(key, 1)
		defer c.track(key, -1)
		return producer(detached)
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Shared, res.Err
		}
		v, _ = res.Val.(V)
		return v, res.Shared, nil
	}
}

func (c *Coalescer[V]) track(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key] += delta
	if c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
}

// Forget releases key so the next caller starts a new fetch even if the
// current one has not settled. Callers already joined keep waiting on it.
func (c *Coalescer[V]) Forget(key string) {
	c.group.Forget(key)
}

// ForgetPrefix forgets every in-flight key starting with prefix
func (c *Coalescer[V]) ForgetPrefix(prefix string) int {
	c.mu.Lock()
	var keys []string
	for key := range c.inflight {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	c.mu.Unlock()

	for _, key := range keys {
		c.group.Forget(key)
	}
	return len(keys)
}

// InFlight returns the number of keys with a running fetch
func (c *Coalescer[V]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
