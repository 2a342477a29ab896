package threads

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Pool is a bounded worker pool. At most Size tasks run at once; Go blocks
// until a slot is free.
type Pool struct {
	name        string
	stopTimeout time.Duration

	mu   sync.RWMutex
	sem  *semaphore.Weighted
	size int64

	active  atomic.Int64
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(name string, size int64, stopTimeout time.Duration) *Pool {
	return &Pool{
		name:        name,
		stopTimeout: stopTimeout,
		sem:         semaphore.NewWeighted(size),
		size:        size,
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.size
}

// Active returns the number of running tasks.
func (p *Pool) Active() int64 { return p.active.Load() }

// Resize changes the maximum number of concurrent tasks. Running tasks keep
// their slots in the old limit; new tasks count against the new one.
func (p *Pool) Resize(size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if size == p.size {
		return
	}
	p.sem = semaphore.NewWeighted(size)
	p.size = size
}

// Go runs fn on the pool once a slot is free or returns ctx's error.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context)) error {
	if p.stopped.Load() {
		return fmt.Errorf("thread pool %s is stopped", p.name)
	}
	p.mu.RLock()
	sem := p.sem
	p.mu.RUnlock()
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.wg.Add(1)
	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.active.Add(-1)
		defer sem.Release(1)
		fn(ctx)
	}()
	return nil
}

// Start implements service.Service.
func (p *Pool) Start(context.Context) error {
	p.stopped.Store(false)
	return nil
}

// Stop implements service.Service. It refuses new tasks and waits up to the
// stop timeout for running ones.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopped.Store(true)
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(p.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("thread pool %s: %d task(s) still running after %s", p.name, p.active.Load(), p.stopTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Value implements service.Valuer.
func (p *Pool) Value() any { return p }
