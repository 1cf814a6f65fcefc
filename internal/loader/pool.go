package loader

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultPoolSize is the number of chunk fetches a Pool runs at once.
const DefaultPoolSize = 10

// Pool bounds how many batch fetches are in flight. One Pool is shared by
// every batch of a Loader, so concurrent batches split the same budget.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with size slots.
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}, nil
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release returns a slot taken by Acquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Size returns the number of slots.
func (p *Pool) Size() int {
	return p.size
}
