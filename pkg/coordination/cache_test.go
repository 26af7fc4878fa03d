package coordination

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(maxBytes int64, clock Clock) *ResultCache {
	// No sweep loop; tests trigger eviction inline.
	return NewResultCache(maxBytes, 0, clock, slog.Default())
}

func TestResultCache_MemoizeComputesOnce(t *testing.T) {
	cache := newTestCache(1<<20, newFakeClock())
	defer cache.Close()

	var calls atomic.Int64

	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)

		return "report", nil
	}

	first, err := cache.Memoize(context.Background(), "validate:wf-1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "report", first)

	second, err := cache.Memoize(context.Background(), "validate:wf-1", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, "report", second)

	assert.Equal(t, int64(1), calls.Load())
}

func TestResultCache_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(1<<20, clock)
	defer cache.Close()

	var calls atomic.Int64

	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)

		return calls.Load(), nil
	}

	_, err := cache.Memoize(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)

	clock.Advance(2 * time.Minute)

	value, err := cache.Memoize(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)
	assert.Equal(t, int64(2), calls.Load())
}

func TestResultCache_InflightDeduplication(t *testing.T) {
	cache := newTestCache(1<<20, newFakeClock())
	defer cache.Close()

	var calls atomic.Int64

	started := make(chan struct{})
	release := make(chan struct{})

	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)
		close(started)
		<-release

		return "slow", nil
	}

	var wg sync.WaitGroup

	results := make([]any, 2)

	wg.Add(1)

	go func() {
		defer wg.Done()

		results[0], _ = cache.Memoize(context.Background(), "k", time.Minute, compute)
	}()

	<-started

	wg.Add(1)

	go func() {
		defer wg.Done()

		// Joins the in-flight call; its own compute must never run.
		results[1], _ = cache.Memoize(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
			t.Error("second compute should not run")

			return nil, nil
		})
	}()

	// Give the second caller time to register before releasing.
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, "slow", results[0])
	assert.Equal(t, "slow", results[1])
	assert.Equal(t, int64(1), calls.Load())
}

func TestResultCache_ErrorsAreNotCached(t *testing.T) {
	cache := newTestCache(1<<20, newFakeClock())
	defer cache.Close()

	var calls atomic.Int64

	compute := func(ctx context.Context) (any, error) {
		calls.Add(1)

		return nil, fmt.Errorf("engine unreachable")
	}

	_, err := cache.Memoize(context.Background(), "k", time.Minute, compute)
	require.Error(t, err)

	_, err = cache.Memoize(context.Background(), "k", time.Minute, compute)
	require.Error(t, err)

	assert.Equal(t, int64(2), calls.Load())
}

func TestResultCache_SizeBudgetEviction(t *testing.T) {
	clock := newFakeClock()
	cache := newTestCache(200, clock)
	defer cache.Close()

	payload := func(n int) string {
		out := make([]byte, 90)
		for i := range out {
			out[i] = byte('a' + n)
		}

		return string(out)
	}

	// Oldest entry, never hit again: the designated victim.
	_, err := cache.Memoize(context.Background(), "victim", time.Hour, func(ctx context.Context) (any, error) {
		return payload(0), nil
	})
	require.NoError(t, err)

	clock.Advance(time.Second)

	_, err = cache.Memoize(context.Background(), "kept-1", time.Hour, func(ctx context.Context) (any, error) {
		return payload(1), nil
	})
	require.NoError(t, err)

	// Hits raise kept-1's score well above the victim's.
	for range 10 {
		_, ok := cache.Get("kept-1")
		require.True(t, ok)
	}

	clock.Advance(time.Second)

	_, err = cache.Memoize(context.Background(), "kept-2", time.Hour, func(ctx context.Context) (any, error) {
		return payload(2), nil
	})
	require.NoError(t, err)

	assert.LessOrEqual(t, cache.UsedBytes(), int64(200))

	_, victimPresent := cache.Get("victim")
	assert.False(t, victimPresent, "oldest, least-hit entry should be evicted first")

	_, kept := cache.Get("kept-2")
	assert.True(t, kept)
}

func TestResultCache_Invalidate(t *testing.T) {
	cache := newTestCache(1<<20, newFakeClock())
	defer cache.Close()

	_, err := cache.Memoize(context.Background(), "k", time.Minute, func(ctx context.Context) (any, error) {
		return "v", nil
	})
	require.NoError(t, err)

	cache.Invalidate("k")

	_, ok := cache.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(0), cache.UsedBytes())
}
