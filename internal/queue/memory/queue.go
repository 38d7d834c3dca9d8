// Package memory provides a queue implementation for local development and
// tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jayteealao/htbase/internal/capture"
)

// Queue is a bounded in-memory job queue with context-aware operations.
type Queue struct {
	ch      chan capture.Job
	closeMu sync.RWMutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan capture.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
// Sending on a closed queue returns an error rather than panicking.
func (q *Queue) Enqueue(ctx context.Context, job capture.Job) error {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return errors.New("queue closed")
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Dequeue pops the next job, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (capture.Job, error) {
	select {
	case <-ctx.Done():
		return capture.Job{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return capture.Job{}, errors.New("queue closed")
		}
		return job, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
