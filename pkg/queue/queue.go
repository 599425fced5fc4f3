package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// TaskTypeConvert 文档转换任务类型
const TaskTypeConvert = "document:convert"

const positionPageSize = 100

// Queue 接口定义
type Queue interface {
	PositionLookup
	// Enqueue submits the task and returns its position at submission time.
	Enqueue(ctx context.Context, task *Task) (int, error)
	// Cancel removes a pending task or signals a running one to stop.
	Cancel(ctx context.Context, taskID string) error
	Close() error
}

// Task 定义任务结构
type Task struct {
	ID        string                         `json:"id"`
	Request   models.ConvertDocumentsRequest `json:"request"`
	CreatedAt time.Time                      `json:"createdAt"`
}

// DecodeTask 解析任务负载
func DecodeTask(payload []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(payload, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	if task.ID == "" {
		return nil, errors.New("task payload has no id")
	}
	return &task, nil
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type inspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
	CancelProcessing(id string) error
	Close() error
}

// AsynqQueue 实现
type AsynqQueue struct {
	client    enqueuer
	inspector inspector
	cfg       config.QueueConfig
	logger    logger.Logger
}

// RedisOpt 构造 asynq 的 Redis 连接参数
func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// NewRedisClient 创建状态存储使用的 Redis 客户端
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewAsynqQueue 创建新的队列实例
func NewAsynqQueue(redisCfg config.RedisConfig, cfg config.QueueConfig, log logger.Logger) *AsynqQueue {
	redisOpt := RedisOpt(redisCfg)
	return newAsynqQueue(asynq.NewClient(redisOpt), asynq.NewInspector(redisOpt), cfg, log)
}

func newAsynqQueue(client enqueuer, insp inspector, cfg config.QueueConfig, log logger.Logger) *AsynqQueue {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &AsynqQueue{
		client:    client,
		inspector: insp,
		cfg:       cfg,
		logger:    log.Named("queue"),
	}
}

// Enqueue 将任务加入队列
func (q *AsynqQueue) Enqueue(ctx context.Context, task *Task) (int, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal task: %w", err)
	}

	opts := []asynq.Option{
		asynq.TaskID(task.ID),
		asynq.Queue(q.cfg.Name),
		asynq.MaxRetry(q.cfg.MaxRetry),
	}
	if q.cfg.ProcessTimeout > 0 {
		opts = append(opts, asynq.Timeout(q.cfg.ProcessTimeout))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeConvert, payload), opts...)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue task: %w", err)
	}

	position, _, err := q.Position(ctx, info.ID)
	if err != nil {
		// the task is queued; only its rank is unknown
		q.logger.Warn("Failed to compute queue position",
			logger.String("taskId", info.ID),
			logger.Error(err),
		)
	}

	q.logger.Info("Task enqueued",
		logger.String("taskId", info.ID),
		logger.String("queue", info.Queue),
		logger.Int("position", position),
	)
	return position, nil
}

// Position returns the number of pending tasks ahead of taskID. ok is false
// when the task is no longer pending.
func (q *AsynqQueue) Position(ctx context.Context, taskID string) (int, bool, error) {
	info, err := q.inspector.GetTaskInfo(q.cfg.Name, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}
	if info.State != asynq.TaskStatePending {
		return 0, false, nil
	}

	ahead := 0
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return 0, false, err
		}
		tasks, err := q.inspector.ListPendingTasks(q.cfg.Name, asynq.PageSize(positionPageSize), asynq.Page(page))
		if err != nil {
			return 0, false, fmt.Errorf("failed to list pending tasks: %w", err)
		}
		for _, t := range tasks {
			if t.ID == taskID {
				return ahead, true, nil
			}
			ahead++
		}
		if len(tasks) < positionPageSize {
			// dispatched between the two calls
			return 0, false, nil
		}
	}
}

// Cancel 取消任务
func (q *AsynqQueue) Cancel(ctx context.Context, taskID string) error {
	info, err := q.inspector.GetTaskInfo(q.cfg.Name, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("failed to inspect task %s: %w", taskID, err)
	}

	switch info.State {
	case asynq.TaskStateActive:
		err = q.inspector.CancelProcessing(taskID)
	case asynq.TaskStateCompleted, asynq.TaskStateArchived:
		return nil
	default:
		err = q.inspector.DeleteTask(q.cfg.Name, taskID)
	}
	if err != nil {
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	q.logger.Info("Task cancelled",
		logger.String("taskId", taskID),
		logger.String("state", info.State.String()),
	)
	return nil
}

func (q *AsynqQueue) Close() error {
	return errors.Join(q.client.Close(), q.inspector.Close())
}
