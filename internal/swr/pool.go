package swr

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool runs fire-and-forget refresh tasks on a bounded set of goroutines.
// Submitting never blocks: when every worker is busy the task is dropped.
type Pool struct {
	g      errgroup.Group
	logger *slog.Logger

	// Submit holds mu shared, so Close never waits while a task is added.
	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool with at most workers concurrent tasks.
func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{logger: logger}
	p.g.SetLimit(workers)
	return p
}

// Submit schedules fn. It reports false when the pool is full or closed.
// A panic inside fn is recovered and logged.
func (p *Pool) Submit(name string, fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	return p.g.TryGo(func() error {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("swr: background task panicked",
					slog.String("task", name),
					slog.String("panic", fmt.Sprint(r)))
			}
		}()
		fn()
		return nil
	})
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	_ = p.g.Wait()
}

// Close stops accepting tasks and waits for running ones.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Wait()
}
