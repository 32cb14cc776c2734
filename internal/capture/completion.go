package capture

import (
	"context"
	"sync"
	"time"
)

// completion is a single-fire cell bridging an asynchronous callback to a
// blocking waiter. The first complete call wins; later calls are ignored.
// If the waiter gives up, a value that arrives afterwards is handed to the
// orphan function so the resources it carries can be released.
type completion[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	fired     bool
	value     T
	abandoned bool
	orphan    func(T)
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

// complete stores v and wakes the waiter. It reports whether v was accepted.
func (c *completion[T]) complete(v T) bool {
	c.mu.Lock()
	if c.fired {
		c.mu.Unlock()
		return false
	}
	c.fired = true
	c.value = v
	abandoned, orphan := c.abandoned, c.orphan
	close(c.done)
	c.mu.Unlock()

	if abandoned && orphan != nil {
		orphan(v)
	}
	return true
}

// wait blocks until the cell fires, the timeout elapses or ctx is done.
// ok is false when no value arrived in time; the cell is then abandoned and
// a late value goes to orphan.
func (c *completion[T]) wait(ctx context.Context, timeout time.Duration, orphan func(T)) (v T, ok bool, err error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.done:
		return c.value, true, nil
	case <-timer.C:
	case <-ctx.Done():
		err = ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fired {
		// Raced with the timer; the value is still ours.
		return c.value, true, nil
	}
	c.abandoned = true
	c.orphan = orphan
	return v, false, err
}
