package eval

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate admits at most one holder at a time. Every worker shares one Gate
// around the match-runner call, which mutates the external tool's build
// directory.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate creates an open gate.
func NewGate() *Gate {
	return &Gate{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the gate. It returns ctx.Err() if the context is
// done before the gate is acquired.
func (g *Gate) Do(ctx context.Context, fn func() error) error {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
