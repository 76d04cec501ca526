// Package gate bounds how many provider calls may be in flight at once.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is a counting admission gate with a fixed maximum of concurrent
// holders. Waiters are served in FIFO arrival order, which is part of
// semaphore.Weighted's contract.
type Gate struct {
	sem *semaphore.Weighted
	max int
}

// New creates a gate admitting at most max concurrent holders.
func New(max int) *Gate {
	if max <= 0 {
		max = 2
	}
	return &Gate{sem: semaphore.NewWeighted(int64(max)), max: max}
}

// Max returns the configured concurrency limit.
func (g *Gate) Max() int { return g.max }

// Acquire blocks until a slot is free or ctx is done.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees a slot, handing it to the next queued waiter if any.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Do runs fn under an acquired slot. The slot is released on every exit
// path, including panics, so a failing caller can never leak admission.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
