package publish

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_RunsJobs(t *testing.T) {
	pool := NewPool(2, nil)
	defer pool.Shutdown()

	var ran int64
	for i := 0; i < 3; i++ {
		if err := pool.Submit(context.Background(), func(ctx context.Context) error {
			atomic.AddInt64(&ran, 1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	pool.Wait()

	if got := atomic.LoadInt64(&ran); got != 3 {
		t.Fatalf("expected 3 jobs to run, got %d", got)
	}
	if m := pool.Metrics(); m.Completed != 3 || m.Active != 0 {
		t.Fatalf("unexpected metrics %+v", m)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const size = 3
	pool := NewPool(size, nil)
	defer pool.Shutdown()

	var current, peak int64
	for i := 0; i < 12; i++ {
		if err := pool.Submit(context.Background(), func(ctx context.Context) error {
			c := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if c <= p || atomic.CompareAndSwapInt64(&peak, p, c) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return nil
		}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	pool.Wait()

	if peak > size {
		t.Fatalf("peak concurrency %d exceeded pool size %d", peak, size)
	}
}

func TestPool_SubmitBlocksWhenFull(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Shutdown()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = pool.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while full, got %v", err)
	}

	close(release)
	pool.Wait()
}

func TestPool_RecoversPanicsAndCountsFailures(t *testing.T) {
	pool := NewPool(2, nil)
	defer pool.Shutdown()

	_ = pool.Submit(context.Background(), func(ctx context.Context) error { panic("boom") })
	_ = pool.Submit(context.Background(), func(ctx context.Context) error { return errors.New("nope") })
	pool.Wait()

	m := pool.Metrics()
	if m.Panics != 1 {
		t.Fatalf("expected 1 panic, got %d", m.Panics)
	}
	if m.Failed != 2 {
		t.Fatalf("expected 2 failed, got %d", m.Failed)
	}
}

func TestPool_ShutdownWaitsAndRejects(t *testing.T) {
	pool := NewPool(2, nil)

	var done int64
	for i := 0; i < 4; i++ {
		_ = pool.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&done, 1)
			return nil
		})
	}
	pool.Shutdown()
	pool.Shutdown()

	if got := atomic.LoadInt64(&done); got != 4 {
		t.Fatalf("expected shutdown to wait for 4 jobs, got %d", got)
	}
	if err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil }); err != ErrPoolShutdown {
		t.Fatalf("expected ErrPoolShutdown, got %v", err)
	}
}
