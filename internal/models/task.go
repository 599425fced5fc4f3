package models

import (
	"errors"
	"fmt"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskPending        TaskStatus = "pending"
	TaskRunning        TaskStatus = "running"
	TaskSuccess        TaskStatus = "success"
	TaskFailure        TaskStatus = "failure"
	TaskPartialSuccess TaskStatus = "partial_success"
)

var (
	ErrTerminalTask      = errors.New("task already finished")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// Rank orders statuses along the lifecycle; all terminal statuses share the highest rank.
func (s TaskStatus) Rank() int {
	switch s {
	case TaskPending:
		return 0
	case TaskRunning:
		return 1
	default:
		return 2
	}
}

// Terminal reports whether no further transition may leave s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskSuccess, TaskFailure, TaskPartialSuccess:
		return true
	}
	return false
}

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskSuccess, TaskFailure, TaskPartialSuccess:
		return true
	}
	return false
}

// TaskStatusFromConversion maps a batch outcome to the terminal task status.
func TaskStatusFromConversion(s ConversionStatus) TaskStatus {
	switch s {
	case ConversionSuccess:
		return TaskSuccess
	case ConversionPartialSuccess:
		return TaskPartialSuccess
	default:
		return TaskFailure
	}
}

// TaskProcessingMeta 任务处理进度
type TaskProcessingMeta struct {
	NumDocs      int `json:"num_docs"`
	NumProcessed int `json:"num_processed"`
	NumSucceeded int `json:"num_succeeded"`
	NumFailed    int `json:"num_failed"`
}

// TaskStatusResponse is the snapshot of a task returned by polling and pushed over the websocket.
type TaskStatusResponse struct {
	TaskID       string              `json:"task_id"`
	TaskStatus   TaskStatus          `json:"task_status"`
	TaskPosition *int                `json:"task_position,omitempty"`
	TaskMeta     *TaskProcessingMeta `json:"task_meta,omitempty"`
}

// NewPendingTask is the record the queue creates on submission.
func NewPendingTask(id string, position int, numDocs int) TaskStatusResponse {
	return TaskStatusResponse{
		TaskID:       id,
		TaskStatus:   TaskPending,
		TaskPosition: &position,
		TaskMeta:     &TaskProcessingMeta{NumDocs: numDocs},
	}
}

// Transition returns the record moved to status `to`. Leaving pending clears
// the position. Terminal records cannot change and statuses never move backwards.
func (t TaskStatusResponse) Transition(to TaskStatus, meta *TaskProcessingMeta) (TaskStatusResponse, error) {
	if !to.Valid() {
		return t, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if t.TaskStatus.Terminal() {
		return t, fmt.Errorf("%w: %s is %s", ErrTerminalTask, t.TaskID, t.TaskStatus)
	}
	if to.Rank() < t.TaskStatus.Rank() {
		return t, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.TaskStatus, to)
	}

	next := t
	next.TaskStatus = to
	if to != TaskPending {
		next.TaskPosition = nil
	}
	if meta != nil {
		m := *meta
		next.TaskMeta = &m
	}
	return next, nil
}

// WithPosition returns a copy with the queue position set. Only pending tasks carry one.
func (t TaskStatusResponse) WithPosition(position int) TaskStatusResponse {
	if t.TaskStatus != TaskPending {
		t.TaskPosition = nil
		return t
	}
	t.TaskPosition = &position
	return t
}

// Clone returns a deep copy, so snapshots handed to subscribers never alias.
func (t TaskStatusResponse) Clone() TaskStatusResponse {
	out := t
	if t.TaskPosition != nil {
		p := *t.TaskPosition
		out.TaskPosition = &p
	}
	if t.TaskMeta != nil {
		m := *t.TaskMeta
		out.TaskMeta = &m
	}
	return out
}
