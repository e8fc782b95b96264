package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rendis/statecascade/internal/logging"
)

// PoolMetrics tracks publish pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when a job is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("publish pool is shut down")

// Pool runs publish jobs with bounded concurrency.
type Pool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	logger  *slog.Logger
}

// NewPool creates a pool running at most size jobs at once.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pool{
		sem:    make(chan struct{}, size),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Submit runs fn on the pool. It blocks while the pool is full and returns
// early on ctx cancellation or shutdown.
func (p *Pool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown's Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Active, 1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Failed, 1)
				p.logger.Error("publish job panicked", slog.String("panic", fmt.Sprint(r)))
			}
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		if err := fn(ctx); err != nil {
			atomic.AddInt64(&p.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&p.metrics.Completed, 1)
		}
	}()

	return nil
}

// Wait blocks until all submitted jobs complete.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting jobs and waits for running ones.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *Pool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    atomic.LoadInt64(&p.metrics.Active),
		Completed: atomic.LoadInt64(&p.metrics.Completed),
		Failed:    atomic.LoadInt64(&p.metrics.Failed),
		Panics:    atomic.LoadInt64(&p.metrics.Panics),
	}
}
