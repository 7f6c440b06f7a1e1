package aerogpu

import (
	"context"
	"sync"
	"time"

	"github.com/gogpu/aerogpu/backend"
)

// Waiter makes a staged readback host-readable. Both implementations feed
// the same writeback code; they differ only in how they wait.
type Waiter interface {
	Wait(ctx context.Context, dev backend.Device, rb backend.Readback) error
}

// BlockingWaiter parks the calling goroutine until the device completes
// the readback. The context is ignored.
type BlockingWaiter struct{}

// Wait implements Waiter.
func (BlockingWaiter) Wait(_ context.Context, _ backend.Device, rb backend.Readback) error {
	var (
		mu     sync.Mutex
		cond   = sync.NewCond(&mu)
		done   bool
		result error
	)
	rb.Map(func(err error) {
		mu.Lock()
		done, result = true, err
		mu.Unlock()
		cond.Broadcast()
	})
	mu.Lock()
	for !done {
		cond.Wait()
	}
	mu.Unlock()
	return result
}

// AsyncWaiter awaits the readback completion with cancellation. On a
// cooperative device it calls Poll every Interval until the readback
// completes, since nothing else delivers the callback.
type AsyncWaiter struct {
	Interval time.Duration
}

// Wait implements Waiter.
func (w AsyncWaiter) Wait(ctx context.Context, dev backend.Device, rb backend.Readback) error {
	done := make(chan error, 1)
	rb.Map(func(err error) { done <- err })

	if !dev.Caps().Cooperative {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	interval := w.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		dev.Poll()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
