package concurrency

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, cfg Config) *Limiter {
	t.Helper()
	l, err := New(cfg, nil)
	require.NoError(t, err)
	return l
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	for _, cfg := range []Config{
		{Initial: 1, Min: 0, Max: 2},
		{Initial: 1, Min: 2, Max: 1},
		{Initial: 6, Min: 1, Max: 5},
	} {
		_, err := New(cfg, nil)
		require.Error(t, err, "%+v", cfg)
	}
}

func TestLimiter_AdjustStepsByOneWithinBounds(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 3, Min: 1, Max: 5})
	l.Adjust(true)
	require.Equal(t, 4, l.Limit())
	l.Adjust(true)
	l.Adjust(true)
	require.Equal(t, 5, l.Limit())

	for i := 0; i < 10; i++ {
		l.Adjust(false)
	}
	require.Equal(t, 1, l.Limit())
}

func TestLimiter_RandomAdjustStaysInBounds(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 3, Min: 1, Max: 5})
	rng := rand.New(rand.NewSource(7))
	prev := l.Limit()
	for i := 0; i < 2000; i++ {
		l.Adjust(rng.Intn(2) == 0)
		cur := l.Limit()
		require.GreaterOrEqual(t, cur, 1)
		require.LessOrEqual(t, cur, 5)
		require.LessOrEqual(t, abs(cur-prev), 1)
		prev = cur
	}
}

func TestLimiter_BlocksAtCapacity(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 1, Min: 1, Max: 2})
	require.NoError(t, l.Acquire(context.Background()))

	acquired := make(chan struct{})
	go func() {
		_ = l.Acquire(context.Background())
		close(acquired)
	}()

	require.Eventually(t, func() bool { return l.Snapshot().Waiting == 1 }, time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("acquired beyond capacity")
	default:
	}

	l.Release()
	require.Eventually(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	require.Equal(t, 1, l.Snapshot().InFlight)
}

func TestLimiter_GrowthWakesWaiters(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 1, Min: 1, Max: 3})
	require.NoError(t, l.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() { done <- l.Acquire(context.Background()) }()
	require.Eventually(t, func() bool { return l.Snapshot().Waiting == 1 }, time.Second, time.Millisecond)

	l.Adjust(true)
	require.NoError(t, <-done)
	require.Equal(t, 2, l.Snapshot().InFlight)
}

func TestLimiter_ShrinkKeepsHeldSlots(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 3, Min: 1, Max: 5})
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()))
	}
	l.Adjust(false)
	l.Adjust(false)
	require.Equal(t, 1, l.Limit())
	require.Equal(t, 3, l.Snapshot().InFlight)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Acquire(ctx), context.DeadlineExceeded)

	l.Release()
	l.Release()
	require.Equal(t, 1, l.Snapshot().InFlight)
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	require.Error(t, l.Acquire(ctx2), "still at the lowered limit")

	l.Release()
	require.NoError(t, l.Acquire(context.Background()))
}

func TestLimiter_CancelledWaiterLeavesQueue(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 1, Min: 1, Max: 1})
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Acquire(ctx) }()
	require.Eventually(t, func() bool { return l.Snapshot().Waiting == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Equal(t, 0, l.Snapshot().Waiting)
	require.Equal(t, 1, l.Snapshot().InFlight)
}

func TestLimiter_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 2, Min: 1, Max: 2})
	l.Release()
	require.Equal(t, 0, l.Snapshot().InFlight)
}

func TestLimiter_DoNeverExceedsLimit(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 3, Min: 1, Max: 3})
	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func(context.Context) error {
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, peak.Load(), int32(3))
	require.Equal(t, 0, l.Snapshot().InFlight)
}

func TestLimiter_DoReleasesOnError(t *testing.T) {
	t.Parallel()

	l := newTestLimiter(t, Config{Initial: 1, Min: 1, Max: 1})
	boom := errors.New("boom")
	require.ErrorIs(t, l.Do(context.Background(), func(context.Context) error { return boom }), boom)
	require.Equal(t, 0, l.Snapshot().InFlight)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
