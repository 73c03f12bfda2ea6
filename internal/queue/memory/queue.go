// Package memory provides the in-process job queue feeding scrape workers.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/site-scraper/internal/crawler"
)

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue closed")

// Queue is a bounded in-memory queue with context-aware operations. A job that is
// already waiting is not queued a second time.
type Queue struct {
	ch        chan crawler.QueueItem
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	waiting map[string]struct{}
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch:      make(chan crawler.QueueItem, capacity),
		done:    make(chan struct{}),
		waiting: make(map[string]struct{}),
	}
}

// Enqueue pushes a job into the queue, blocking while it is full, or returns if the
// context ends or the queue closes. Enqueuing a job that is already waiting is a no-op.
func (q *Queue) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	if !q.claim(item.JobID) {
		return nil
	}
	select {
	case <-ctx.Done():
		q.release(item.JobID)
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case <-q.done:
		q.release(item.JobID)
		return ErrClosed
	case q.ch <- item:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case <-ctx.Done():
		return crawler.QueueItem{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case <-q.done:
		return crawler.QueueItem{}, ErrClosed
	case item := <-q.ch:
		q.release(item.JobID)
		return item, nil
	}
}

func (q *Queue) claim(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.waiting[jobID]; ok {
		return false
	}
	q.waiting[jobID] = struct{}{}
	return true
}

func (q *Queue) release(jobID string) {
	q.mu.Lock()
	delete(q.waiting, jobID)
	q.mu.Unlock()
}

// Len reports how many items are buffered.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close stops the queue. Buffered items are dropped; pending operations return ErrClosed.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
}
