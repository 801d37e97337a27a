package scheduler

import (
	"context"
	"sync/atomic"
)

type outcome[T any] struct {
	value T
	err   error
}

// Correlation is a one-shot handoff between the unit producing a result on
// the tick and the worker waiting for it. Only the first Complete or Fail
// is delivered; a Correlation is never reused.
type Correlation[T any] struct {
	ch   chan outcome[T]
	sent atomic.Bool
}

func NewCorrelation[T any]() *Correlation[T] {
	return &Correlation[T]{ch: make(chan outcome[T], 1)}
}

// Complete delivers a success value. It reports false if the correlation
// was already finalized.
func (c *Correlation[T]) Complete(v T) bool {
	return c.deliver(outcome[T]{value: v})
}

// Fail delivers a failure. It reports false if the correlation was already
// finalized.
func (c *Correlation[T]) Fail(err error) bool {
	return c.deliver(outcome[T]{err: err})
}

func (c *Correlation[T]) deliver(o outcome[T]) bool {
	if !c.sent.CompareAndSwap(false, true) {
		return false
	}
	c.ch <- o
	return true
}

// Done reports whether a result was delivered.
func (c *Correlation[T]) Done() bool {
	return c.sent.Load()
}

// Wait blocks until the result arrives or ctx ends.
func (c *Correlation[T]) Wait(ctx context.Context) (T, error) {
	select {
	case o := <-c.ch:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
