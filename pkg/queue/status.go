package queue

import (
	"context"
	"errors"

	"github.com/feichai0017/document-converter/internal/models"
)

var (
	ErrTaskNotFound   = errors.New("task not found")
	ErrResultNotFound = errors.New("task result not found")
	ErrTaskExists     = errors.New("task already exists")
	// ErrTaskNotStarted means a dequeued task could not be moved to running.
	// Its record is still pending, so the task may be retried.
	ErrTaskNotStarted = errors.New("task not started")
)

// StatusStore owns task records. Writes are serialized per task and every
// successful write is published to the task's subscribers.
type StatusStore interface {
	// Create stores a new record; an existing id is ErrTaskExists.
	Create(ctx context.Context, task models.TaskStatusResponse) error
	// Get returns the current snapshot or ErrTaskNotFound.
	Get(ctx context.Context, taskID string) (models.TaskStatusResponse, error)
	// Transition moves the task to status `to`, see models.TaskStatusResponse.Transition.
	Transition(ctx context.Context, taskID string, to models.TaskStatus, meta *models.TaskProcessingMeta) (models.TaskStatusResponse, error)
	// Subscribe returns an independent subscription to the task's snapshots.
	// Snapshots written after Subscribe returns are delivered.
	Subscribe(ctx context.Context, taskID string) (Subscription, error)
	// SaveResult stores the serialized result of a finished task.
	SaveResult(ctx context.Context, taskID string, result []byte) error
	// GetResult returns the stored result or ErrResultNotFound.
	GetResult(ctx context.Context, taskID string) ([]byte, error)
}

// Subscription delivers snapshots of one task to one consumer.
type Subscription interface {
	// Updates is closed when the subscription ends.
	Updates() <-chan models.TaskStatusResponse
	// Err reports why Updates was closed, nil after Close.
	Err() error
	Close() error
}

// PositionLookup computes the queue position of a pending task at read time.
type PositionLookup interface {
	Position(ctx context.Context, taskID string) (int, bool, error)
}
