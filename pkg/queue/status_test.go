package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

func newRedisStore(t *testing.T) (*RedisStatusStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatusStore(client, time.Hour, logger.NewTestLogger()), mr
}

func stores(t *testing.T) map[string]StatusStore {
	redisStore, _ := newRedisStore(t)
	return map[string]StatusStore{
		"redis":  redisStore,
		"memory": NewMemoryStatusStore(),
	}
}

func receive(t *testing.T, sub Subscription) models.TaskStatusResponse {
	t.Helper()
	select {
	case task, ok := <-sub.Updates():
		require.True(t, ok, "subscription closed: %v", sub.Err())
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return models.TaskStatusResponse{}
	}
}

func TestStatusStore_Lifecycle(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 3, 2)))
			assert.ErrorIs(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)), ErrTaskExists)

			got, err := store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, models.TaskPending, got.TaskStatus)
			require.NotNil(t, got.TaskPosition)
			assert.Equal(t, 3, *got.TaskPosition)

			running, err := store.Transition(ctx, "t1", models.TaskRunning, nil)
			require.NoError(t, err)
			assert.Nil(t, running.TaskPosition)
			assert.Equal(t, 2, running.TaskMeta.NumDocs)

			done, err := store.Transition(ctx, "t1", models.TaskPartialSuccess,
				&models.TaskProcessingMeta{NumDocs: 2, NumProcessed: 2, NumSucceeded: 1, NumFailed: 1})
			require.NoError(t, err)
			assert.Equal(t, models.TaskPartialSuccess, done.TaskStatus)

			_, err = store.Transition(ctx, "t1", models.TaskSuccess, nil)
			assert.ErrorIs(t, err, models.ErrTerminalTask)

			got, err = store.Get(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, models.TaskPartialSuccess, got.TaskStatus)
			assert.Equal(t, 1, got.TaskMeta.NumFailed)
			assert.Nil(t, got.TaskPosition)

			_, err = store.Get(ctx, "xyz")
			assert.ErrorIs(t, err, ErrTaskNotFound)
			_, err = store.Transition(ctx, "xyz", models.TaskRunning, nil)
			assert.ErrorIs(t, err, ErrTaskNotFound)
		})
	}
}

func TestStatusStore_RejectsBackwardMove(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))
			_, err := store.Transition(ctx, "t1", models.TaskRunning, nil)
			require.NoError(t, err)

			_, err = store.Transition(ctx, "t1", models.TaskPending, nil)
			assert.ErrorIs(t, err, models.ErrInvalidTransition)
		})
	}
}

func TestStatusStore_Results(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := store.GetResult(ctx, "t1")
			assert.ErrorIs(t, err, ErrResultNotFound)

			require.NoError(t, store.SaveResult(ctx, "t1", []byte(`{"status":"success"}`)))
			data, err := store.GetResult(ctx, "t1")
			require.NoError(t, err)
			assert.JSONEq(t, `{"status":"success"}`, string(data))
		})
	}
}

func TestStatusStore_FanOut(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))

			subA, err := store.Subscribe(ctx, "t1")
			require.NoError(t, err)
			defer subA.Close()
			subB, err := store.Subscribe(ctx, "t1")
			require.NoError(t, err)
			defer subB.Close()

			_, err = store.Transition(ctx, "t1", models.TaskRunning, nil)
			require.NoError(t, err)
			assert.Equal(t, models.TaskRunning, receive(t, subA).TaskStatus)
			assert.Equal(t, models.TaskRunning, receive(t, subB).TaskStatus)

			_, err = store.Transition(ctx, "t1", models.TaskSuccess, nil)
			require.NoError(t, err)
			assert.Equal(t, models.TaskSuccess, receive(t, subA).TaskStatus)
			assert.Equal(t, models.TaskSuccess, receive(t, subB).TaskStatus)
		})
	}
}

func TestStatusStore_CloseEndsUpdates(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sub, err := store.Subscribe(context.Background(), "t1")
			require.NoError(t, err)
			require.NoError(t, sub.Close())

			select {
			case _, ok := <-sub.Updates():
				assert.False(t, ok)
			case <-time.After(2 * time.Second):
				t.Fatal("updates not closed")
			}
			assert.NoError(t, sub.Err())
		})
	}
}

func TestRedisStatusStore_ConcurrentTransitions(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.Transition(ctx, "t1", models.TaskSuccess, nil)
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, models.ErrTerminalTask)
		}
	}
	assert.Equal(t, 1, succeeded)
}

func TestRedisStatusStore_Expiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 1)))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryStatusStore_ConflatesToLatest(t *testing.T) {
	store := NewMemoryStatusStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, models.NewPendingTask("t1", 0, 3)))

	sub, err := store.Subscribe(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Subscribers("t1"))

	for i := 1; i <= 3; i++ {
		_, err := store.Transition(ctx, "t1", models.TaskRunning, &models.TaskProcessingMeta{NumDocs: 3, NumProcessed: i})
		require.NoError(t, err)
	}
	_, err = store.Transition(ctx, "t1", models.TaskSuccess, &models.TaskProcessingMeta{NumDocs: 3, NumProcessed: 3})
	require.NoError(t, err)

	// the consumer may see intermediate snapshots but always ends on the last one
	var last models.TaskStatusResponse
	for last.TaskStatus != models.TaskSuccess {
		last = receive(t, sub)
	}
	assert.Equal(t, 3, last.TaskMeta.NumProcessed)

	require.NoError(t, sub.Close())
	assert.Zero(t, store.Subscribers("t1"))
}
