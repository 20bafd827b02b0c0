package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks parallel fan-out activity across all pools of an Engine.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Panics    int64 `json:"panics"`
	FanOuts   int64 `json:"fan_outs"`
}

func (m *PoolMetrics) snapshot() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&m.Active),
		Completed: atomic.LoadInt64(&m.Completed),
		Panics:    atomic.LoadInt64(&m.Panics),
		FanOuts:   atomic.LoadInt64(&m.FanOuts),
	}
}

// workerPool bounds one fan-out. Each fan-out gets its own pool, so a
// parallel step whose body fans out again never waits on its parent's slots.
type workerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics *PoolMetrics
}

func newWorkerPool(size int, metrics *PoolMetrics) *workerPool {
	if size <= 0 {
		size = 1
	}
	if metrics == nil {
		metrics = &PoolMetrics{}
	}
	atomic.AddInt64(&metrics.FanOuts, 1)
	return &workerPool{
		sem:     make(chan struct{}, size),
		metrics: metrics,
	}
}

// Go runs fn on a new goroutine once a slot is free. It blocks while the
// pool is at capacity and gives up with ctx.Err() if ctx ends first.
func (p *workerPool) Go(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			atomic.AddInt64(&p.metrics.Completed, 1)
			<-p.sem
			p.wg.Done()
		}()
		fn()
	}()

	return nil
}

// Wait blocks until every started fn has returned.
func (p *workerPool) Wait() {
	p.wg.Wait()
}
