package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned by Submit after Shutdown has been called.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// ErrPoolSaturated is returned by TrySubmit when every slot is busy.
var ErrPoolSaturated = errors.New("worker pool is saturated")

// PoolMetrics is a point-in-time snapshot of pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// WorkerPool bounds how many executions run at once. Submit blocks while the
// pool is full, which gives the trigger paths natural backpressure instead of
// an unbounded goroutine-per-lead fanout when a schedule fires.
type WorkerPool struct {
	slots chan struct{}
	stop  chan struct{}

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	panics    atomic.Int64
}

// NewWorkerPool returns a pool running at most size executions concurrently.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{
		slots: make(chan struct{}, size),
		stop:  make(chan struct{}),
	}
}

// Submit runs fn on a pool goroutine. It blocks until a slot frees up, the
// context is cancelled, or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.stop:
		return ErrPoolShutdown
	}
	return p.launch(ctx, fn)
}

// TrySubmit runs fn on a pool goroutine if a slot is free right now. It never
// blocks: a full pool returns ErrPoolSaturated so callers on latency-sensitive
// paths can defer the work instead of parking on it.
func (p *WorkerPool) TrySubmit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.slots <- struct{}{}:
	case <-p.stop:
		return ErrPoolShutdown
	default:
		return ErrPoolSaturated
	}
	return p.launch(ctx, fn)
}

// launch starts the pool goroutine for an already-acquired slot. Registering
// with the WaitGroup has to happen under the same lock Shutdown uses to flip
// closed, otherwise a submission racing Shutdown could Add after Wait has
// started.
func (p *WorkerPool) launch(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.active.Add(1)
	go p.run(ctx, fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
		}
		p.active.Add(-1)
		<-p.slots
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

// Wait blocks until every in-flight execution finishes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown rejects further submissions and waits for in-flight work. Safe to
// call more than once.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Metrics reports the current counter values.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}
