package mcpgateway

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/ragon/ragon/pkg/logger"
)

// ErrPoolClosed is returned by Submit once the pool is shutting down.
var ErrPoolClosed = errors.New("task pool closed")

// TaskPool runs dispatch work detached from the HTTP request that
// scheduled it. With a limit, at most that many tasks execute at once and
// the rest wait for a slot; Submit itself never blocks.
type TaskPool struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewTaskPool creates a pool whose tasks inherit values from ctx. A limit
// of zero or less means unbounded.
func NewTaskPool(ctx context.Context, limit int) *TaskPool {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p := &TaskPool{ctx: ctx, cancel: cancel}
	if limit > 0 {
		p.sem = semaphore.NewWeighted(int64(limit))
	}
	return p
}

// Submit schedules task without waiting for a slot. It fails once the
// pool is closed.
func (p *TaskPool) Submit(task func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go p.run(task)
	return nil
}

func (p *TaskPool) run(task func(ctx context.Context)) {
	defer p.wg.Done()
	if p.sem != nil {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			logger.FromContext(p.ctx).Warn("Task abandoned before it could start", "error", err)
			return
		}
		defer p.sem.Release(1)
	}
	defer func() {
		if r := recover(); r != nil {
			logger.FromContext(p.ctx).Error("Task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}

// Close stops accepting work and waits for running tasks. If ctx expires
// first, queued and running tasks see their context cancelled.
func (p *TaskPool) Close(ctx context.Context) error {
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
		p.cancel()
		return fmt.Errorf("task pool drain interrupted: %w", ctx.Err())
	}
}
