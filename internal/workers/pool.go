package workers

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"media-pipeline/internal/metrics"
)

// Gate holds back new work, e.g. under memory pressure. Wait returns once
// work may start or ctx is done.
type Gate interface {
	Wait(ctx context.Context) error
}

// Pool bounds how many jobs run at once.
type Pool struct {
	size int64
	sem  *semaphore.Weighted
	gate Gate
}

// NewPool creates a pool with size slots. Sizes below 1 become 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	metrics.WorkerPoolSize.Set(float64(size))
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// WithGate makes Do wait on g before taking a slot.
func (p *Pool) WithGate(g Gate) *Pool {
	p.gate = g
	return p
}

// Size returns the number of slots.
func (p *Pool) Size() int { return int(p.size) }

// Do waits for the gate and a slot, then runs fn while holding the slot.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	start := time.Now()
	if p.gate != nil {
		if err := p.gate.Wait(ctx); err != nil {
			return err
		}
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	metrics.WorkerPoolWaitDuration.Observe(time.Since(start).Seconds())
	metrics.WorkerPoolInUse.Inc()
	defer func() {
		metrics.WorkerPoolInUse.Dec()
		p.sem.Release(1)
	}()

	return fn(ctx)
}
