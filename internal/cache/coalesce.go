package cache

import (
	"context"
	"fmt"
	"sync"
)

type flight[V any] struct {
	done  chan struct{}
	value V
	err   error
}

// Coalescer deduplicates concurrent calls that share a key: the first caller
// starts the underlying call, later callers join it, and every caller that
// stays observes the identical outcome.
type Coalescer[V any] struct {
	mu       sync.Mutex
	inflight map[string]*flight[V]
}

func NewCoalescer[V any]() *Coalescer[V] {
	return &Coalescer[V]{inflight: make(map[string]*flight[V])}
}

// Do runs fn for key, or joins the flight already running for it. The bool
// reports whether this caller joined an existing flight.
//
// The flight runs detached from any single caller's context: a caller whose
// ctx is cancelled gets ctx.Err() and stops waiting, but the underlying call
// keeps going for the remaining waiters. The in-flight entry is removed when
// the call settles, whatever the outcome, so a failed key is immediately
// retryable.
func (c *Coalescer[V]) Do(ctx context.Context, key string, fn func(context.Context) (V, error)) (V, bool, error) {
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return c.wait(ctx, f, true)
	}

	f := &flight[V]{done: make(chan struct{})}
	c.inflight[key] = f
	c.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("coalesced call panicked: %v", r)
			}
			c.mu.Lock()
			delete(c.inflight, key)
			c.mu.Unlock()
			close(f.done)
		}()
		f.value, f.err = fn(context.WithoutCancel(ctx))
	}()

	return c.wait(ctx, f, false)
}

func (c *Coalescer[V]) wait(ctx context.Context, f *flight[V], joined bool) (V, bool, error) {
	select {
	case <-f.done:
		return f.value, joined, f.err
	case <-ctx.Done():
		var zero V
		return zero, joined, ctx.Err()
	}
}

// InFlight reports how many keys currently have a running call.
func (c *Coalescer[V]) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}
