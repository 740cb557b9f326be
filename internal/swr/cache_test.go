package swr

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = time.Unix(1_700_000_000, 0).Add(d)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCache(t *testing.T) (*Cache[string], *Pool, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	clock.Set(0)
	pool := NewPool(2, quietLogger())
	t.Cleanup(pool.Close)
	c := New[string](NewMemory(), pool, WithClock(clock.Now), WithLogger(quietLogger()))
	return c, pool, clock
}

var tiers = Policy{Fresh: 120 * time.Second, Stale: 3600 * time.Second}

func TestCache_Tiers(t *testing.T) {
	c, pool, clock := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		n := calls.Add(1)
		return "v" + string(rune('0'+n)), nil
	}

	res := c.Get(ctx, "k", fetch, tiers, "")
	assert.Equal(t, StateRefreshed, res.State)
	assert.Equal(t, "v1", res.Value)
	assert.EqualValues(t, 1, calls.Load())

	// t=60: fresh, no fetch.
	clock.Set(60 * time.Second)
	res = c.Get(ctx, "k", fetch, tiers, "")
	assert.Equal(t, StateFresh, res.State)
	assert.Equal(t, "v1", res.Value)
	assert.EqualValues(t, 1, calls.Load())

	// t=600: stale, cached value returned and exactly one background fetch.
	clock.Set(600 * time.Second)
	res = c.Get(ctx, "k", fetch, tiers, "")
	assert.Equal(t, StateStale, res.State)
	assert.Equal(t, "v1", res.Value)
	pool.Wait()
	assert.EqualValues(t, 2, calls.Load())

	// The background refresh stored v2 at t=600; t=4000 is past its stale tier
	// only relative to t=0, so move far enough to expire v2 as well.
	clock.Set(4000*time.Second + 600*time.Second)
	res = c.Get(ctx, "k", fetch, tiers, "")
	assert.Equal(t, StateRefreshed, res.State)
	assert.Equal(t, "v3", res.Value)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCache_ExpiredFetchesSynchronously(t *testing.T) {
	c, pool, clock := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	fetch := func(context.Context) (string, error) {
		calls.Add(1)
		return "value", nil
	}
	c.Get(ctx, "k", fetch, tiers, "")

	clock.Set(4000 * time.Second)
	res := c.Get(ctx, "k", fetch, tiers, "")
	assert.Equal(t, StateRefreshed, res.State)
	// No background task involved: the call count is already final.
	assert.EqualValues(t, 2, calls.Load())
	pool.Wait()
	assert.EqualValues(t, 2, calls.Load())
}

func TestCache_ExpiredFailureFallsBackToPrevious(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	c.Get(ctx, "k", func(context.Context) (string, error) { return "old", nil }, tiers, "")

	clock.Set(4000 * time.Second)
	res := c.Get(ctx, "k", func(context.Context) (string, error) { return "", errors.New("down") }, tiers, "def")
	assert.Equal(t, StateFallback, res.State)
	assert.Equal(t, "old", res.Value)
	assert.False(t, res.Placeholder)
}

func TestCache_PlaceholderRetried(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	var calls atomic.Int32
	failing := func(context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("unreachable")
	}

	res := c.Get(ctx, "k", failing, tiers, "Loading...")
	assert.Equal(t, StatePlaceholder, res.State)
	assert.True(t, res.Placeholder)
	assert.Equal(t, "Loading...", res.Value)
	assert.EqualValues(t, 1, calls.Load())

	// Within the placeholder TTL and well inside the fresh tier: still retried.
	clock.Set(5 * time.Second)
	res = c.Get(ctx, "k", failing, tiers, "Loading...")
	assert.Equal(t, StatePlaceholder, res.State)
	assert.EqualValues(t, 2, calls.Load())

	clock.Set(10 * time.Second)
	res = c.Get(ctx, "k", func(context.Context) (string, error) { return "real", nil }, tiers, "Loading...")
	assert.Equal(t, StateRefreshed, res.State)
	assert.Equal(t, "real", res.Value)
	assert.False(t, res.Placeholder)

	clock.Set(20 * time.Second)
	res = c.Get(ctx, "k", failing, tiers, "Loading...")
	assert.Equal(t, StateFresh, res.State)
	assert.Equal(t, "real", res.Value)
}

func TestCache_InvalidateAndWarm(t *testing.T) {
	backend := NewMemory()
	c := New[int](backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()

	require.NoError(t, c.Warm(ctx, "n", func(context.Context) (int, error) { return 7, nil }, tiers))
	assert.Equal(t, 1, backend.Len())

	res := c.Get(ctx, "n", func(context.Context) (int, error) { return 0, errors.New("unused") }, tiers, -1)
	assert.Equal(t, StateFresh, res.State)
	assert.Equal(t, 7, res.Value)

	require.NoError(t, c.Invalidate(ctx, "n"))
	assert.Equal(t, 0, backend.Len())

	err := c.Warm(ctx, "n", func(context.Context) (int, error) { return 0, errors.New("boom") }, tiers)
	assert.Error(t, err)
	assert.Equal(t, 0, backend.Len())
}

func TestCache_MetaWithoutValueIsMiss(t *testing.T) {
	backend := NewMemory()
	c := New[string](backend, nil, WithLogger(quietLogger()))
	ctx := context.Background()

	// An undecodable value behaves like a miss.
	require.NoError(t, backend.Store(ctx, "k", nil, Meta{CachedAt: time.Now()}))
	res := c.Get(ctx, "k", func(context.Context) (string, error) { return "x", nil }, tiers, "")
	assert.Equal(t, StateRefreshed, res.State)
}

func TestMemory_Prune(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	require.NoError(t, m.Store(ctx, "old", []byte(`1`), Meta{CachedAt: now, ExpiresAt: now.Add(time.Second)}))
	require.NoError(t, m.Store(ctx, "new", []byte(`2`), Meta{CachedAt: now, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, m.Store(ctx, "forever", []byte(`3`), Meta{CachedAt: now}))

	n, err := m.PruneCache(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 2, m.Len())
}

func TestPool_RecoversPanics(t *testing.T) {
	pool := NewPool(1, quietLogger())
	ok := pool.Submit("boom", func() { panic("bad") })
	assert.True(t, ok)
	pool.Wait()

	var ran atomic.Bool
	assert.True(t, pool.Submit("after", func() { ran.Store(true) }))
	pool.Close()
	assert.True(t, ran.Load())
	assert.False(t, pool.Submit("closed", func() {}))
}

func TestPool_SubmitRacingClose(t *testing.T) {
	for round := 0; round < 20; round++ {
		pool := NewPool(4, quietLogger())
		var ran, accepted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 50; j++ {
					if pool.Submit("task", func() { ran.Add(1) }) {
						accepted.Add(1)
					}
				}
			}()
		}
		pool.Close()
		wg.Wait()
		// Whatever was accepted before Close has finished by the time the
		// submitters are done, and nothing is accepted afterwards.
		pool.Wait()
		assert.Equal(t, accepted.Load(), ran.Load())
		assert.False(t, pool.Submit("late", func() {}))
	}
}
