// Package oneshot provides a write-once result cell.
package oneshot

import (
	"context"
	"sync"

	appErr "fuzsandbox/pkg/errors"
)

// ErrAlreadyResolved is returned by Resolve after the cell has been set.
var ErrAlreadyResolved = appErr.New(appErr.SandboxAlreadyResolved)

// Cell holds exactly one value or error. The first Resolve wins; later
// attempts are rejected and leave the stored outcome untouched.
type Cell[T any] struct {
	once  sync.Once
	done  chan struct{}
	mu    sync.Mutex
	set   bool
	value T
	err   error
}

// New creates an unresolved cell.
func New[T any]() *Cell[T] {
	return &Cell[T]{done: make(chan struct{})}
}

// Resolve stores the outcome and releases waiters.
func (c *Cell[T]) Resolve(value T, err error) error {
	c.mu.Lock()
	if c.set {
		c.mu.Unlock()
		return ErrAlreadyResolved
	}
	c.set = true
	c.value = value
	c.err = err
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

// Done is closed once the cell is resolved.
func (c *Cell[T]) Done() <-chan struct{} {
	return c.done
}

// Resolved reports whether Resolve has succeeded.
func (c *Cell[T]) Resolved() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the cell is resolved or ctx ends.
func (c *Cell[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
