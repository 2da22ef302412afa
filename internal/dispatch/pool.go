// Package dispatch runs pipeline executions in the background on a bounded
// number of workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("dispatch pool is closed")

// Task is one unit of background work. ctx is canceled when the pool is
// forced to stop.
type Task func(ctx context.Context)

// Pool limits how many tasks run at once. Submit never blocks the caller.
type Pool struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	queued  atomic.Int64
	running atomic.Int64
}

// NewPool creates a pool with the given number of workers.
func NewPool(workers int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit schedules task and returns immediately.
func (p *Pool) Submit(task Task) error {
	if task == nil {
		return errors.New("dispatch: nil task")
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	p.queued.Add(1)
	go p.run(task)
	return nil
}

func (p *Pool) run(task Task) {
	defer p.wg.Done()

	acquired := p.sem.Acquire(p.ctx, 1) == nil
	p.queued.Add(-1)
	if acquired {
		defer p.sem.Release(1)
	}
	// A task that never got a worker still runs with the canceled context so
	// it can record its own abort.
	p.running.Add(1)
	defer p.running.Add(-1)

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r))
		}
	}()
	task(p.ctx)
}

// Queued returns the number of tasks waiting for a worker.
func (p *Pool) Queued() int {
	return int(p.queued.Load())
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Shutdown stops accepting tasks and waits for in-flight ones. If ctx ends
// first, running tasks are canceled and Shutdown waits for them to return.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn("drain deadline reached, canceling tasks",
			zap.Int("running", p.Running()), zap.Int("queued", p.Queued()))
		p.cancel()
		<-done
		return fmt.Errorf("dispatch drain interrupted: %w", ctx.Err())
	}
}
