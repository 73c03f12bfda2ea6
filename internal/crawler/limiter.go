package crawler

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Limiter bounds how many units of work run at once. Waiters are admitted in FIFO order.
type Limiter struct {
	sem  *semaphore.Weighted
	size int
}

// NewLimiter returns a Limiter admitting n concurrent units. n below 1 is treated as 1.
func NewLimiter(n int) *Limiter {
	if n < 1 {
		n = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(n)), size: n}
}

// Size reports the concurrency bound.
func (l *Limiter) Size() int {
	return l.size
}

// Run waits for a free slot, then runs fn. The slot is released when fn returns or panics.
// If ctx ends before a slot frees up, fn is not run.
func (l *Limiter) Run(ctx context.Context, fn func(context.Context) error) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire limiter slot: %w", err)
	}
	defer l.sem.Release(1)
	return fn(ctx)
}
