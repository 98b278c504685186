// Package gate bounds how many queued jobs run at once.
package gate

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate is the admission controller: at most maxProc queued jobs hold a slot
// at any moment. Exempt jobs never touch the gate, so they neither wait nor
// consume a slot.
type Gate struct {
	sem     *semaphore.Weighted
	maxProc int
}

func New(maxProc int) *Gate {
	return &Gate{
		sem:     semaphore.NewWeighted(int64(maxProc)),
		maxProc: maxProc,
	}
}

// Acquire blocks until a slot frees up or ctx is cancelled. Cancellation is
// how a termination signal stops new launches.
func (g *Gate) Acquire(ctx context.Context) error {
	return g.sem.Acquire(ctx, 1)
}

// Release frees the slot held by a finished job.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Limit returns the configured ceiling.
func (g *Gate) Limit() int {
	return g.maxProc
}
