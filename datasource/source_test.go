package datasource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/adminpanel/listfetch"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// counting returns a fetcher that records how often it ran
func counting(val string, calls *atomic.Int32) Fetcher[string] {
	return func(context.Context) (string, error) {
		calls.Add(1)
		return val, nil
	}
}

func TestSource_ReadCachesWithinTTL(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	src := New[string](WithTTL(time.Minute), WithClock(clk.Now))
	ctx := context.Background()

	var calls atomic.Int32
	v, err := src.Read(ctx, "GET /api/products/1", counting("p1", &calls))
	require.NoError(t, err)
	assert.Equal(t, "p1", v)

	clk.Advance(59 * time.Second)
	v, err = src.Read(ctx, "GET /api/products/1", counting("other", &calls))
	require.NoError(t, err)
	assert.Equal(t, "p1", v, "fresh entry must be served from cache")
	assert.EqualValues(t, 1, calls.Load())

	clk.Advance(time.Second)
	v, err = src.Read(ctx, "GET /api/products/1", counting("p1-v2", &calls))
	require.NoError(t, err)
	assert.Equal(t, "p1-v2", v, "expired entry must be refetched")
	assert.EqualValues(t, 2, calls.Load())

	st := src.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
	assert.EqualValues(t, 2, st.Fetches)
	assert.Equal(t, 1, st.Entries)
	assert.InDelta(t, 1.0/3.0, st.HitRate(), 0.0001)
}

func TestSource_FailedReadIsNotCached(t *testing.T) {
	src := New[string]()
	ctx := context.Background()
	boom := errors.New("503 service unavailable")

	_, err := src.Read(ctx, "GET /api/jobs", func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)

	_, ok := src.Peek("GET /api/jobs")
	assert.False(t, ok)

	v, err := src.Read(ctx, "GET /api/jobs", func(context.Context) (string, error) { return "jobs", nil })
	require.NoError(t, err)
	assert.Equal(t, "jobs", v)
	assert.EqualValues(t, 1, src.Stats().FetchErrors)
}

func TestSource_ConcurrentReadsShareOneFetch(t *testing.T) {
	src := New[string]()
	release := make(chan struct{})
	var calls atomic.Int32

	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		<-release
		return "entities", nil
	}

	const n = 5
	var wg sync.WaitGroup
	results := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = src.Read(context.Background(), "GET /api/entities", fetch)
		}(i)
	}

	require.Eventually(t, func() bool { return src.Stats().Misses == n }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond) // let the callers join the fetch
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "entities", results[i])
	}
	assert.Positive(t, src.Stats().Shared)
}

func TestSource_WriteInvalidatesOnSuccess(t *testing.T) {
	src := New[string]()
	ctx := context.Background()
	var calls atomic.Int32

	for _, k := range []string{"list/a", "list/b", "detail/1"} {
		_, err := src.Read(ctx, k, counting(k, &calls))
		require.NoError(t, err)
	}

	_, err := src.Write(ctx, func(context.Context) (string, error) { return "created", nil }, "list/")
	require.NoError(t, err)

	assert.Equal(t, []string{"detail/1"}, src.Keys())
	st := src.Stats()
	assert.EqualValues(t, 1, st.Writes)
	assert.EqualValues(t, 2, st.Invalidated)
}

func TestSource_FailedWriteKeepsCache(t *testing.T) {
	src := New[string]()
	ctx := context.Background()
	var calls atomic.Int32

	_, err := src.Read(ctx, "list/x", counting("cached", &calls))
	require.NoError(t, err)

	boom := errors.New("422 unprocessable entity")
	_, err = src.Write(ctx, func(context.Context) (string, error) { return "", boom }, "list/")
	assert.ErrorIs(t, err, boom)

	v, ok := src.Peek("list/x")
	require.True(t, ok, "failed write must not invalidate")
	assert.Equal(t, "cached", v)
	assert.EqualValues(t, 1, src.Stats().FailedWrites)
}

func TestSource_ReadFreshBypassesCache(t *testing.T) {
	src := New[string]()
	ctx := context.Background()
	var calls atomic.Int32

	_, err := src.Read(ctx, "GET /api/plans/3", counting("cached", &calls))
	require.NoError(t, err)

	v, err := src.ReadFresh(ctx, "GET /api/plans/3", counting("live", &calls))
	require.NoError(t, err)
	assert.Equal(t, "live", v)

	cached, ok := src.Peek("GET /api/plans/3")
	require.True(t, ok)
	assert.Equal(t, "cached", cached, "fresh reads must not overwrite the cache")

	_, err = src.ReadFresh(ctx, "GET /api/plans/4", counting("live", &calls))
	require.NoError(t, err)
	_, ok = src.Peek("GET /api/plans/4")
	assert.False(t, ok, "fresh reads must not populate the cache")
	assert.EqualValues(t, 2, src.Stats().FreshReads)
}

func TestSource_InFlightReadIsNotCachedAfterInvalidate(t *testing.T) {
	src := New[string]()
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})

	done := make(chan string, 1)
	go func() {
		v, _ := src.Read(ctx, "GET /api/categories", func(context.Context) (string, error) {
			close(started)
			<-release
			return "stale", nil
		})
		done <- v
	}()
	<-started

	src.Invalidate("GET /api/categories")

	// a read after the invalidation must not join the stale fetch
	v, err := src.Read(ctx, "GET /api/categories", func(context.Context) (string, error) { return "fresh", nil })
	require.NoError(t, err)
	assert.Equal(t, "fresh", v)

	close(release)
	assert.Equal(t, "stale", <-done)

	cached, ok := src.Peek("GET /api/categories")
	require.True(t, ok)
	assert.Equal(t, "fresh", cached)
	assert.EqualValues(t, 1, src.Stats().StaleDropped)
}

func TestSource_InvalidateWithoutPrefixesIsNoop(t *testing.T) {
	src := New[string]()
	var calls atomic.Int32
	_, err := src.Read(context.Background(), "k", counting("v", &calls))
	require.NoError(t, err)

	assert.Equal(t, 0, src.Invalidate())
	assert.Equal(t, []string{"k"}, src.Keys())
}

func TestSource_Purge(t *testing.T) {
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	src := New[string](WithTTL(time.Minute), WithListTTL(time.Second), WithClock(clk.Now))
	ctx := context.Background()
	var calls atomic.Int32

	_, err := src.Read(ctx, "a", counting("a", &calls))
	require.NoError(t, err)
	clk.Advance(2 * time.Minute)
	_, err = src.Read(ctx, "b", counting("b", &calls))
	require.NoError(t, err)

	assert.Equal(t, 1, src.Purge())
	assert.Equal(t, []string{"b"}, src.Keys())
}

func TestListView_UncachedByDefault(t *testing.T) {
	src := New[string]()
	var calls atomic.Int32

	lv := NewListView(src, func(_ context.Context, q string) (string, error) {
		calls.Add(1)
		return "page:" + q, nil
	}, ListKey[string, string](func(q string) string { return "GET /api/products?" + q }))

	for i := 0; i < 2; i++ {
		v, err := lv.Do(context.Background(), "page=1")
		require.NoError(t, err)
		assert.Equal(t, "page:page=1", v)
	}
	assert.EqualValues(t, 2, calls.Load())
	assert.Zero(t, src.Stats().ListEntries)
}

func TestListView_CachedWhenListTTLSet(t *testing.T) {
	src := New[string](WithListTTL(time.Minute))
	var calls atomic.Int32
	var (
		mu      sync.Mutex
		commits []string
	)

	lv := NewListView(src, func(_ context.Context, q string) (string, error) {
		calls.Add(1)
		return "page:" + q, nil
	},
		ListKey[string, string](func(q string) string { return "GET /api/products?" + q }),
		ListCommit[string, string](func(r listfetch.Result[string, string]) {
			mu.Lock()
			commits = append(commits, r.Value)
			mu.Unlock()
		}),
	)

	for i := 0; i < 2; i++ {
		_, err := lv.Do(context.Background(), "page=1")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, src.Stats().ListEntries)

	_, err := src.Write(context.Background(), func(context.Context) (string, error) { return "ok", nil }, "GET /api/products")
	require.NoError(t, err)
	assert.Zero(t, src.Stats().ListEntries)

	_, err = lv.Do(context.Background(), "page=1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())

	mu.Lock()
	assert.Equal(t, []string{"page:page=1", "page:page=1", "page:page=1"}, commits)
	mu.Unlock()
}
