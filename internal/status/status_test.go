package status

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
)

type recordingSink struct {
	mu       sync.Mutex
	messages []models.WebsocketMessage
	updates  chan models.TaskStatus
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(chan models.TaskStatus, 16)}
}

func (r *recordingSink) Send(_ context.Context, msg models.WebsocketMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
	if msg.Message == models.MessageUpdate {
		r.updates <- msg.Task.TaskStatus
	}
	return nil
}

func (r *recordingSink) Messages() []models.WebsocketMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.WebsocketMessage(nil), r.messages...)
}

func (r *recordingSink) waitUpdate(t *testing.T) models.TaskStatus {
	t.Helper()
	select {
	case s := <-r.updates:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return ""
	}
}

type fixedPositions struct {
	pos int
	ok  bool
	err error
}

func (f fixedPositions) Position(context.Context, string) (int, bool, error) {
	return f.pos, f.ok, f.err
}

type failingStore struct {
	queue.StatusStore
}

func (failingStore) Subscribe(context.Context, string) (queue.Subscription, error) {
	return nil, errors.New("pubsub unavailable")
}

func TestGetStatus_PositionAtReadTime(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 5, 1)))

	svc := NewService(store, fixedPositions{pos: 2, ok: true}, logger.NewTestLogger())
	got, err := svc.GetStatus(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got.TaskPosition)
	assert.Equal(t, 2, *got.TaskPosition)

	// polling is side-effect free
	again, err := svc.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, got, again)
	stored, err := store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, *stored.TaskPosition)
}

func TestGetStatus_PositionLookupFailureKeepsStored(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 5, 1)))

	svc := NewService(store, fixedPositions{err: errors.New("inspector down")}, logger.NewTestLogger())
	got, err := svc.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 5, *got.TaskPosition)
}

func TestGetStatus_FinishedTaskHasNoPosition(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))
	_, err := store.Transition(ctx, "t1", models.TaskFailure, nil)
	require.NoError(t, err)

	svc := NewService(store, fixedPositions{pos: 1, ok: true}, logger.NewTestLogger())
	got, err := svc.GetStatus(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskFailure, got.TaskStatus)
	assert.Nil(t, got.TaskPosition)
}

func TestGetStatus_Unknown(t *testing.T) {
	svc := NewService(queue.NewMemoryStatusStore(), nil, logger.NewTestLogger())
	_, err := svc.GetStatus(context.Background(), "xyz")
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestStream_Lifecycle(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))

	svc := NewService(store, nil, logger.NewTestLogger())
	sink := newRecordingSink()
	done := make(chan error, 1)
	go func() { done <- svc.Stream(ctx, "t1", sink) }()

	assert.Equal(t, models.TaskPending, sink.waitUpdate(t))
	_, err := store.Transition(ctx, "t1", models.TaskRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, models.TaskRunning, sink.waitUpdate(t))
	_, err = store.Transition(ctx, "t1", models.TaskSuccess, &models.TaskProcessingMeta{NumDocs: 1, NumProcessed: 1, NumSucceeded: 1})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after terminal status")
	}

	msgs := sink.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, models.MessageConnection, msgs[0].Message)
	assert.Equal(t, models.TaskPending, msgs[1].Task.TaskStatus)
	require.NotNil(t, msgs[1].Task.TaskPosition)
	assert.Equal(t, models.TaskRunning, msgs[2].Task.TaskStatus)
	assert.Nil(t, msgs[2].Task.TaskPosition)
	assert.Equal(t, models.TaskSuccess, msgs[3].Task.TaskStatus)
	assert.Equal(t, 1, msgs[3].Task.TaskMeta.NumSucceeded)
	assert.Zero(t, store.Subscribers("t1"))
}

func TestStream_AlreadyTerminal(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))
	_, err := store.Transition(ctx, "t1", models.TaskPartialSuccess, nil)
	require.NoError(t, err)

	sink := newRecordingSink()
	require.NoError(t, NewService(store, nil, logger.NewTestLogger()).Stream(ctx, "t1", sink))

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.TaskPartialSuccess, msgs[1].Task.TaskStatus)
}

func TestStream_UnknownTask(t *testing.T) {
	sink := newRecordingSink()
	svc := NewService(queue.NewMemoryStatusStore(), nil, logger.NewTestLogger())

	err := svc.Stream(context.Background(), "xyz", sink)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageConnection, msgs[0].Message)
	assert.Equal(t, models.MessageError, msgs[1].Message)
	assert.Contains(t, *msgs[1].Error, "xyz")
}

func TestStream_SubscriptionFailure(t *testing.T) {
	sink := newRecordingSink()
	svc := NewService(failingStore{queue.NewMemoryStatusStore()}, nil, logger.NewTestLogger())

	err := svc.Stream(context.Background(), "t1", sink)
	require.Error(t, err)

	msgs := sink.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, models.MessageError, msgs[1].Message)
	assert.Contains(t, *msgs[1].Error, "pubsub unavailable")
}

func TestStream_FanOut(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))
	svc := NewService(store, nil, logger.NewTestLogger())

	sinks := []*recordingSink{newRecordingSink(), newRecordingSink(), newRecordingSink()}
	var wg sync.WaitGroup
	for _, sink := range sinks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, svc.Stream(ctx, "t1", sink))
		}()
	}
	for _, sink := range sinks {
		assert.Equal(t, models.TaskPending, sink.waitUpdate(t))
	}

	_, err := store.Transition(ctx, "t1", models.TaskSuccess, nil)
	require.NoError(t, err)
	wg.Wait()

	for _, sink := range sinks {
		msgs := sink.Messages()
		assert.Equal(t, models.TaskSuccess, msgs[len(msgs)-1].Task.TaskStatus)
	}
}

func TestStream_ContextCancelled(t *testing.T) {
	store := queue.NewMemoryStatusStore()
	require.NoError(t, store.Create(context.Background(), models.NewPendingTask("t1", 0, 1)))
	svc := NewService(store, nil, logger.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	sink := newRecordingSink()
	done := make(chan error, 1)
	go func() { done <- svc.Stream(ctx, "t1", sink) }()

	sink.waitUpdate(t)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("stream ignored cancellation")
	}
}
