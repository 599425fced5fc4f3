package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const (
	statusKeyPrefix  = "task_status:"
	resultKeyPrefix  = "task_result:"
	updateChanPrefix = "task_updates:"

	maxTxRetries = 10
)

func statusKey(id string) string { return statusKeyPrefix + id }
func resultKey(id string) string { return resultKeyPrefix + id }
func updateChannel(id string) string { return updateChanPrefix + id }

// RedisStatusStore keeps records as JSON under task_status:<id> and publishes
// every write on task_updates:<id>.
type RedisStatusStore struct {
	redis  redis.UniversalClient
	ttl    time.Duration
	logger logger.Logger
}

func NewRedisStatusStore(client redis.UniversalClient, ttl time.Duration, log logger.Logger) *RedisStatusStore {
	return &RedisStatusStore{
		redis:  client,
		ttl:    ttl,
		logger: log.Named("status"),
	}
}

// Create 保存新任务状态
func (s *RedisStatusStore) Create(ctx context.Context, task models.TaskStatusResponse) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	key := statusKey(task.TaskID)
	err = s.redis.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: %s", ErrTaskExists, task.TaskID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.ttl)
			pipe.Publish(ctx, updateChannel(task.TaskID), data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("failed to save status: %w", err)
	}
	return nil
}

// Get 获取任务状态
func (s *RedisStatusStore) Get(ctx context.Context, taskID string) (models.TaskStatusResponse, error) {
	data, err := s.redis.Get(ctx, statusKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.TaskStatusResponse{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if err != nil {
		return models.TaskStatusResponse{}, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var task models.TaskStatusResponse
	if err := json.Unmarshal(data, &task); err != nil {
		return models.TaskStatusResponse{}, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return task, nil
}

// Transition uses WATCH/MULTI so concurrent writers never interleave.
func (s *RedisStatusStore) Transition(ctx context.Context, taskID string, to models.TaskStatus, meta *models.TaskProcessingMeta) (models.TaskStatusResponse, error) {
	key := statusKey(taskID)
	var next models.TaskStatusResponse

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		if err != nil {
			return err
		}

		var current models.TaskStatusResponse
		if err := json.Unmarshal(data, &current); err != nil {
			return fmt.Errorf("failed to unmarshal status: %w", err)
		}

		next, err = current.Transition(to, meta)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			pipe.Publish(ctx, updateChannel(taskID), payload)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == nil {
			s.logger.Debug("Task transitioned",
				logger.String("taskId", taskID),
				logger.String("status", string(to)),
			)
			return next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return models.TaskStatusResponse{}, err
	}
	return models.TaskStatusResponse{}, fmt.Errorf("failed to update status of %s: too much contention", taskID)
}

// Subscribe returns once the redis subscription is confirmed.
func (s *RedisStatusStore) Subscribe(ctx context.Context, taskID string) (Subscription, error) {
	pubsub := s.redis.Subscribe(ctx, updateChannel(taskID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", taskID, err)
	}

	sub := &redisSubscription{
		pubsub:  pubsub,
		updates: make(chan models.TaskStatusResponse, 16),
		done:    make(chan struct{}),
		logger:  s.logger,
	}
	go sub.run()
	return sub, nil
}

// SaveResult 保存任务结果
func (s *RedisStatusStore) SaveResult(ctx context.Context, taskID string, result []byte) error {
	if err := s.redis.Set(ctx, resultKey(taskID), result, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

// GetResult 获取任务结果
func (s *RedisStatusStore) GetResult(ctx context.Context, taskID string) ([]byte, error) {
	data, err := s.redis.Get(ctx, resultKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrResultNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	return data, nil
}

type redisSubscription struct {
	pubsub  *redis.PubSub
	updates chan models.TaskStatusResponse
	done    chan struct{}
	logger  logger.Logger

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

func (s *redisSubscription) run() {
	defer close(s.updates)

	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-ch:
			if !ok {
				s.setErr(errors.New("subscription channel closed"))
				return
			}
			var task models.TaskStatusResponse
			if err := json.Unmarshal([]byte(msg.Payload), &task); err != nil {
				s.logger.Warn("Dropping malformed status update",
					logger.String("channel", msg.Channel),
					logger.Error(err),
				)
				continue
			}
			select {
			case s.updates <- task:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		// closed by the consumer
	default:
		s.err = err
	}
}

func (s *redisSubscription) Updates() <-chan models.TaskStatusResponse { return s.updates }

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
		err = s.pubsub.Close()
	})
	return err
}
