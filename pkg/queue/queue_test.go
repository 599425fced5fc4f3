package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

type fakeAsynq struct {
	enqueued   []*asynq.Task
	opts       [][]asynq.Option
	enqueueErr error

	infos     map[string]*asynq.TaskInfo
	pending   []string
	deleted   []string
	cancelled []string
	listCalls int
}

func newFakeAsynq() *fakeAsynq {
	return &fakeAsynq{infos: make(map[string]*asynq.TaskInfo)}
}

func (f *fakeAsynq) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	decoded, err := DecodeTask(task.Payload())
	if err != nil {
		return nil, err
	}
	f.enqueued = append(f.enqueued, task)
	f.opts = append(f.opts, opts)
	info := &asynq.TaskInfo{ID: decoded.ID, Queue: "default", Type: task.Type(), State: asynq.TaskStatePending}
	f.infos[decoded.ID] = info
	f.pending = append(f.pending, decoded.ID)
	return info, nil
}

func (f *fakeAsynq) GetTaskInfo(_ string, id string) (*asynq.TaskInfo, error) {
	info, ok := f.infos[id]
	if !ok {
		return nil, fmt.Errorf("lookup %s: %w", id, asynq.ErrTaskNotFound)
	}
	return info, nil
}

func (f *fakeAsynq) ListPendingTasks(_ string, _ ...asynq.ListOption) ([]*asynq.TaskInfo, error) {
	f.listCalls++
	// list options are opaque; pages are served in call order
	page := f.listCalls
	start := (page - 1) * positionPageSize
	if start >= len(f.pending) {
		return nil, nil
	}
	end := min(start+positionPageSize, len(f.pending))
	var out []*asynq.TaskInfo
	for _, id := range f.pending[start:end] {
		out = append(out, f.infos[id])
	}
	return out, nil
}

func (f *fakeAsynq) DeleteTask(_ string, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAsynq) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeAsynq) Close() error { return nil }

func newTestQueue(f *fakeAsynq) *AsynqQueue {
	return newAsynqQueue(f, f, config.QueueConfig{MaxRetry: 0, ProcessTimeout: time.Minute}, logger.NewTestLogger())
}

func testTask(id string) *Task {
	return &Task{
		ID:        id,
		Request:   models.NewFileRequest(models.ConvertDocumentsOptions{}, models.FileSource{Base64String: "SGVsbG8=", Filename: "a.txt"}),
		CreatedAt: time.Now(),
	}
}

func TestAsynqQueue_EnqueueReturnsPosition(t *testing.T) {
	f := newFakeAsynq()
	q := newTestQueue(f)

	for i, id := range []string{"t1", "t2", "t3"} {
		f.listCalls = 0
		pos, err := q.Enqueue(context.Background(), testTask(id))
		require.NoError(t, err)
		assert.Equal(t, i, pos)
	}

	require.Len(t, f.enqueued, 3)
	assert.Equal(t, TaskTypeConvert, f.enqueued[0].Type())

	task, err := DecodeTask(f.enqueued[1].Payload())
	require.NoError(t, err)
	assert.Equal(t, "t2", task.ID)
	assert.Equal(t, models.SourceKindFile, task.Request.Kind)
	require.Len(t, task.Request.Sources, 1)
}

func TestAsynqQueue_EnqueueError(t *testing.T) {
	f := newFakeAsynq()
	f.enqueueErr = errors.New("redis down")
	q := newTestQueue(f)

	_, err := q.Enqueue(context.Background(), testTask("t1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestAsynqQueue_PositionAcrossPages(t *testing.T) {
	f := newFakeAsynq()
	for i := 0; i < positionPageSize+5; i++ {
		id := fmt.Sprintf("t%d", i)
		f.infos[id] = &asynq.TaskInfo{ID: id, State: asynq.TaskStatePending}
		f.pending = append(f.pending, id)
	}
	q := newTestQueue(f)

	pos, ok, err := q.Position(context.Background(), fmt.Sprintf("t%d", positionPageSize+2))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, positionPageSize+2, pos)
	assert.Equal(t, 2, f.listCalls)
}

func TestAsynqQueue_PositionNotPending(t *testing.T) {
	f := newFakeAsynq()
	f.infos["active"] = &asynq.TaskInfo{ID: "active", State: asynq.TaskStateActive}
	q := newTestQueue(f)

	_, ok, err := q.Position(context.Background(), "active")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = q.Position(context.Background(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, f.listCalls)
}

func TestAsynqQueue_Cancel(t *testing.T) {
	f := newFakeAsynq()
	f.infos["p"] = &asynq.TaskInfo{ID: "p", State: asynq.TaskStatePending}
	f.infos["a"] = &asynq.TaskInfo{ID: "a", State: asynq.TaskStateActive}
	q := newTestQueue(f)

	require.NoError(t, q.Cancel(context.Background(), "p"))
	require.NoError(t, q.Cancel(context.Background(), "a"))
	assert.Equal(t, []string{"p"}, f.deleted)
	assert.Equal(t, []string{"a"}, f.cancelled)

	err := q.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
