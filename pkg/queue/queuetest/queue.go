// Package queuetest provides an in-memory queue.Queue for tests.
package queuetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/feichai0017/document-converter/pkg/queue"
)

// MemoryQueue keeps pending tasks in submission order.
type MemoryQueue struct {
	mu        sync.Mutex
	pending   []*queue.Task
	cancelled []string

	// EnqueueErr, when set, is returned by every Enqueue.
	EnqueueErr error
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(_ context.Context, task *queue.Task) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.EnqueueErr != nil {
		return 0, q.EnqueueErr
	}
	q.pending = append(q.pending, task)
	return len(q.pending) - 1, nil
}

func (q *MemoryQueue) Position(_ context.Context, taskID string) (int, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.ID == taskID {
			return i, true, nil
		}
	}
	return 0, false, nil
}

func (q *MemoryQueue) Cancel(_ context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.pending {
		if t.ID == taskID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.cancelled = append(q.cancelled, taskID)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
}

func (q *MemoryQueue) Close() error { return nil }

// Next dequeues the oldest pending task, nil when empty.
func (q *MemoryQueue) Next() *queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	t := q.pending[0]
	q.pending = q.pending[1:]
	return t
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Cancelled returns the ids removed by Cancel.
func (q *MemoryQueue) Cancelled() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.cancelled...)
}

var _ queue.Queue = (*MemoryQueue)(nil)
