// Package datasource is the single entry point page controllers use to
// talk to the admin API: cached and coalesced reads, uncached fresh reads,
// writes that invalidate dependent reads, and cancellable list views.
package datasource

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/adminpanel/cache"
)

// Fetcher performs one underlying call
type Fetcher[V any] func(ctx context.Context) (V, error)

// Source combines a TTL cache, a request coalescer and list fetchers.
// The zero value is not usable; build one with New.
type Source[V any] struct {
	cache  *cache.TTL[V]
	flight *cache.Coalescer[V]
	log    zerolog.Logger

	listTTL   time.Duration
	listCache *cache.TTL[V]

	// epoch counts successful invalidations. A read only stores its
	// result if no invalidation happened while it was in flight.
	epoch atomic.Uint64
	// storeMu orders "check epoch then store" against invalidation
	storeMu sync.Mutex

	stats counters
}

type counters struct {
	hits         atomic.Int64
	misses       atomic.Int64
	shared       atomic.Int64
	fetches      atomic.Int64
	fetchErrors  atomic.Int64
	fresh        atomic.Int64
	writes       atomic.Int64
	failedWrites atomic.Int64
	invalidated  atomic.Int64
	staleDropped atomic.Int64
}

// Stats is a snapshot of a Source's counters
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Shared       int64 `json:"shared"`
	Fetches      int64 `json:"fetches"`
	FetchErrors  int64 `json:"fetch_errors"`
	FreshReads   int64 `json:"fresh_reads"`
	Writes       int64 `json:"writes"`
	FailedWrites int64 `json:"failed_writes"`
	Invalidated  int64 `json:"invalidated"`
	StaleDropped int64 `json:"stale_dropped"`
	Entries      int   `json:"entries"`
	ListEntries  int   `json:"list_entries"`
	InFlight     int   `json:"in_flight"`
}

// HitRate returns hits / (hits + misses), or 0 before the first read
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Option configures a Source
type Option func(*config)

type config struct {
	ttl     time.Duration
	listTTL time.Duration
	now     func() time.Time
	log     zerolog.Logger
}

// WithTTL sets the freshness window of cached reads
func WithTTL(ttl time.Duration) Option {
	return func(c *config) { c.ttl = ttl }
}

// WithListTTL enables caching of list loads for ttl. Zero, the default,
// keeps lists uncached.
func WithListTTL(ttl time.Duration) Option {
	return func(c *config) { c.listTTL = ttl }
}

// WithClock replaces time.Now for both caches
func WithClock(now func() time.Time) Option {
	return func(c *config) { c.now = now }
}

// WithLogger sets the logger
func WithLogger(log zerolog.Logger) Option {
	return func(c *config) { c.log = log }
}

// New creates a Source with its own cache and coalescer
func New[V any](opts ...Option) *Source[V] {
	cfg := config{ttl: cache.DefaultTTL, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(&cfg)
	}

	s := &Source[V]{
		cache:   cache.NewTTL[V](cache.WithTTL(cfg.ttl), cache.WithClock(cfg.now)),
		flight:  cache.NewCoalescer[V](),
		log:     cfg.log,
		listTTL: cfg.listTTL,
	}
	if cfg.listTTL > 0 {
		s.listCache = cache.NewTTL[V](cache.WithTTL(cfg.listTTL), cache.WithClock(cfg.now))
	}
	return s
}

// Read returns the cached value for key or fetches it. Concurrent misses
// for the same key share one fetch. Only successful results are cached.
func (s *Source[V]) Read(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	return s.read(ctx, s.cache, key, fetch)
}

func (s *Source[V]) read(ctx context.Context, store *cache.TTL[V], key string, fetch Fetcher[V]) (V, error) {
	if v, ok := store.Get(key); ok {
		s.stats.hits.Add(1)
		s.log.Debug().Str("key", key).Msg("cache hit")
		return v, nil
	}
	s.stats.misses.Add(1)

	v, shared, err := s.flight.FetchOnce(ctx, key, func(fctx context.Context) (V, error) {
		// another caller may have stored it between our miss and here
		if v, ok := store.Get(key); ok {
			return v, nil
		}

		epoch := s.epoch.Load()
		s.stats.fetches.Add(1)
		s.log.Debug().Str("key", key).Msg("cache miss, fetching")

		v, err := fetch(fctx)
		if err != nil {
			s.stats.fetchErrors.Add(1)
			return v, err
		}
		s.store(store, key, v, epoch)
		return v, nil
	})
	if shared {
		s.stats.shared.Add(1)
	}
	return v, err
}

func (s *Source[V]) store(store *cache.TTL[V], key string, v V, epoch uint64) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	if s.epoch.Load() != epoch {
		s.stats.staleDropped.Add(1)
		s.log.Debug().Str("key", key).Msg("write happened during fetch, not caching result")
		return
	}
	store.Set(key, v)
}

// ReadFresh calls fetch directly, ignoring both the cache and any
// in-flight read of key. The result is not cached.
func (s *Source[V]) ReadFresh(ctx context.Context, key string, fetch Fetcher[V]) (V, error) {
	s.stats.fresh.Add(1)
	s.log.Debug().Str("key", key).Msg("fresh read, bypassing cache")
	return fetch(ctx)
}

// Write performs a mutating call. Only when it succeeds is every prefix
// invalidated; a failed write leaves cached reads untouched.
func (s *Source[V]) Write(ctx context.Context, fetch Fetcher[V], invalidatePrefixes ...string) (V, error) {
	s.stats.writes.Add(1)

	v, err := fetch(ctx)
	if err != nil {
		s.stats.failedWrites.Add(1)
		s.log.Warn().Err(err).Strs("prefixes", invalidatePrefixes).Msg("write failed, cache kept")
		return v, err
	}

	s.Invalidate(invalidatePrefixes...)
	return v, nil
}

// Invalidate drops every cached read under the given prefixes and makes
// in-flight reads under them unshareable and uncacheable.
func (s *Source[V]) Invalidate(prefixes ...string) int {
	if len(prefixes) == 0 {
		return 0
	}

	s.storeMu.Lock()
	s.epoch.Add(1)
	n := 0
	for _, p := range prefixes {
		n += s.cache.InvalidatePrefix(p)
		if s.listCache != nil {
			n += s.listCache.InvalidatePrefix(p)
		}
		s.flight.ForgetPrefix(p)
	}
	s.storeMu.Unlock()

	s.stats.invalidated.Add(int64(n))
	s.log.Debug().Strs("prefixes", prefixes).Int("removed", n).Msg("cache invalidated")
	return n
}

// Peek returns a cached value without fetching
func (s *Source[V]) Peek(key string) (V, bool) {
	return s.cache.Get(key)
}

// Keys lists the fresh cached keys
func (s *Source[V]) Keys() []string {
	return s.cache.Keys()
}

// Purge drops expired entries from both caches
func (s *Source[V]) Purge() int {
	n := s.cache.PurgeExpired()
	if s.listCache != nil {
		n += s.listCache.PurgeExpired()
	}
	return n
}

// Stats returns a snapshot of the counters
func (s *Source[V]) Stats() Stats {
	st := Stats{
		Hits:         s.stats.hits.Load(),
		Misses:       s.stats.misses.Load(),
		Shared:       s.stats.shared.Load(),
		Fetches:      s.stats.fetches.Load(),
		FetchErrors:  s.stats.fetchErrors.Load(),
		FreshReads:   s.stats.fresh.Load(),
		Writes:       s.stats.writes.Load(),
		FailedWrites: s.stats.failedWrites.Load(),
		Invalidated:  s.stats.invalidated.Load(),
		StaleDropped: s.stats.staleDropped.Load(),
		Entries:      s.cache.Len(),
		InFlight:     s.flight.InFlight(),
	}
	if s.listCache != nil {
		st.ListEntries = s.listCache.Len()
	}
	return st
}
