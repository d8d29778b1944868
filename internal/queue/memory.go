package queue

import (
	"context"
	"sync"

	"github.com/yokitheyo/diagramq/internal/model"
)

// MemoryQueue is a bounded in-process queue. Enqueue never blocks: a full
// buffer is reported as ErrQueueFull.
type MemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan model.Job
}

func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		jobs: make(chan model.Job, size),
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, job model.Job) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue keeps handing out buffered jobs after Close so that queued work
// drains; it reports ErrQueueClosed once the buffer is empty.
func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{
			Job:  job,
			nack: func(ctx context.Context) error { return q.Enqueue(ctx, job) },
		}, nil
	}
}

func (q *MemoryQueue) Ping(context.Context) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	return nil
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	return nil
}

func (q *MemoryQueue) Len() int {
	return len(q.jobs)
}
