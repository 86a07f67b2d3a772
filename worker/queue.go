// Package worker consumes jobs from a queue and drives them through the
// appropriate pipeline variant.
package worker

import (
	"context"
	"sync"

	"github.com/docflow-ai/docflow"
)

// Delivery is one dequeued job plus its acknowledgement handles. Ack removes
// the job; Nack returns it for redelivery when requeue is true and discards it
// otherwise.
type Delivery struct {
	Job  *docflow.Job
	Ack  func()
	Nack func(requeue bool)
}

// JobQueue is the transport the pool consumes from. The queue owns delivery
// retry policy; the pool only decides whether a failure warrants redelivery.
type JobQueue interface {
	// Dequeue blocks until a job is available or the context ends.
	Dequeue(ctx context.Context) (*Delivery, error)

	// Depth reports the number of jobs waiting.
	Depth() int
}

// MemoryQueue is an in-process JobQueue for development and tests.
type MemoryQueue struct {
	mutex  sync.Mutex
	jobs   chan *docflow.Job
	closed bool
}

// NewMemoryQueue creates a queue with the given buffer capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 128
	}
	return &MemoryQueue{jobs: make(chan *docflow.Job, capacity)}
}

// Enqueue adds a job. It returns false when the queue is closed or full.
func (q *MemoryQueue) Enqueue(job *docflow.Job) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// Close stops further enqueues and lets drained workers exit.
func (q *MemoryQueue) Close() {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &Delivery{
			Job: job,
			Ack: func() {},
			Nack: func(requeue bool) {
				if requeue {
					q.Enqueue(job)
				}
			},
		}, nil
	}
}

func (q *MemoryQueue) Depth() int {
	return len(q.jobs)
}
