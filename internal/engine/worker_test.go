package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAll(t *testing.T) {
	metrics := &PoolMetrics{}
	pool := newWorkerPool(2, metrics)

	var ran int64
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Go(context.Background(), func() { atomic.AddInt64(&ran, 1) }))
	}
	pool.Wait()

	assert.Equal(t, int64(5), atomic.LoadInt64(&ran))
	m := metrics.snapshot()
	assert.Equal(t, int64(5), m.Completed)
	assert.Equal(t, int64(0), m.Active)
	assert.Equal(t, int64(1), m.FanOuts)
}

func TestWorkerPool_ConcurrencyLimit(t *testing.T) {
	pool := newWorkerPool(3, nil)

	var current, peak int64
	var mu sync.Mutex
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Go(context.Background(), func() {
			c := atomic.AddInt64(&current, 1)
			mu.Lock()
			if c > peak {
				peak = c
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak, int64(3))
	assert.Greater(t, peak, int64(0))
}

func TestWorkerPool_CancelledWhileWaitingForSlot(t *testing.T) {
	pool := newWorkerPool(1, nil)
	release := make(chan struct{})
	require.NoError(t, pool.Go(context.Background(), func() { <-release }))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Go(ctx, func() {}), context.Canceled)

	close(release)
	pool.Wait()
}

func TestWorkerPool_PanicRecovered(t *testing.T) {
	metrics := &PoolMetrics{}
	pool := newWorkerPool(1, metrics)

	require.NoError(t, pool.Go(context.Background(), func() { panic("boom") }))
	pool.Wait()

	assert.Equal(t, int64(1), metrics.snapshot().Panics)
	assert.Equal(t, int64(0), metrics.snapshot().Active)
}

func TestWorkerPool_ZeroSizeDefaultsToOne(t *testing.T) {
	pool := newWorkerPool(0, nil)
	assert.Equal(t, 1, cap(pool.sem))
}
