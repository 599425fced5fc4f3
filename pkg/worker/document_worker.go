package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
)

// Processor runs one dequeued conversion task and owns its status writes.
// Process wraps queue.ErrTaskNotStarted when the record is still pending;
// Abandon then fails it once no retry is left.
type Processor interface {
	Process(ctx context.Context, task *queue.Task) error
	Abandon(ctx context.Context, task *queue.Task) error
}

type DocumentWorker struct {
	BaseWorker
	processor   Processor
	retriesLeft func(ctx context.Context) bool
}

func NewDocumentWorker(redisCfg config.RedisConfig, cfg config.QueueConfig, processor Processor, log logger.Logger) *DocumentWorker {
	log = log.Named("worker")
	queues := cfg.Queues
	if len(queues) == 0 {
		queues = map[string]int{cfg.Name: 1}
	}

	server := asynq.NewServer(
		queue.RedisOpt(redisCfg),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      queues,
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * cfg.RetryDelay
			},
			Logger: asynqLogger{logger: log},
		},
	)

	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		processor:   processor,
		retriesLeft: retriesLeft,
	}

	// 注册任务处理器
	w.registerHandlers()
	return w
}

func (w *DocumentWorker) registerHandlers() {
	w.mux.HandleFunc(queue.TaskTypeConvert, w.handleConvert)
}

func (w *DocumentWorker) handleConvert(ctx context.Context, t *asynq.Task) error {
	task, err := queue.DecodeTask(t.Payload())
	if err != nil {
		w.logger.Error("Invalid task payload", logger.Error(err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	w.logger.Info("Processing conversion task",
		logger.String("taskId", task.ID),
		logger.String("kind", string(task.Request.Kind)),
		logger.Int("documents", len(task.Request.Sources)),
		logger.Duration("queued", time.Since(task.CreatedAt)),
	)

	err = w.processor.Process(ctx, task)
	if err == nil {
		return nil
	}
	log := w.logger.With(logger.String("taskId", task.ID))

	if errors.Is(err, queue.ErrTaskNotStarted) {
		if w.retriesLeft(ctx) {
			log.Warn("Conversion task not started, will retry", logger.Error(err))
			return err
		}
		if aerr := w.processor.Abandon(ctx, task); aerr != nil {
			log.Error("Failed to abandon task", logger.Error(aerr))
		}
	}

	log.Error("Conversion task failed", logger.Error(err))
	// the record is terminal now, a retry would be skipped anyway
	return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
}

// retriesLeft reports whether asynq will run the task again after a failure.
func retriesLeft(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried < maxRetry
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-w.stopChan:
		}
	}()
	return nil
}
