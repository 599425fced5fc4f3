package status

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
)

// Sink receives the messages of one push channel in order.
type Sink interface {
	Send(ctx context.Context, msg models.WebsocketMessage) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, msg models.WebsocketMessage) error

func (f SinkFunc) Send(ctx context.Context, msg models.WebsocketMessage) error {
	return f(ctx, msg)
}

var ErrSubscriptionClosed = errors.New("status subscription closed")

// Service reads task records for polling and push delivery. It never writes them.
type Service struct {
	store     queue.StatusStore
	positions queue.PositionLookup
	logger    logger.Logger
}

// NewService positions may be nil, then the stored position is reported.
func NewService(store queue.StatusStore, positions queue.PositionLookup, log logger.Logger) *Service {
	return &Service{
		store:     store,
		positions: positions,
		logger:    log.Named("status"),
	}
}

// GetStatus returns the current snapshot of taskID. Pending tasks get their
// queue position recomputed at read time.
func (s *Service) GetStatus(ctx context.Context, taskID string) (models.TaskStatusResponse, error) {
	task, err := s.store.Get(ctx, taskID)
	if err != nil {
		return models.TaskStatusResponse{}, err
	}
	return s.withPosition(ctx, task), nil
}

func (s *Service) withPosition(ctx context.Context, task models.TaskStatusResponse) models.TaskStatusResponse {
	if task.TaskStatus != models.TaskPending || s.positions == nil {
		return task
	}
	pos, ok, err := s.positions.Position(ctx, task.TaskID)
	if err != nil {
		s.logger.Warn("Failed to look up queue position",
			logger.String("taskId", task.TaskID),
			logger.Error(err),
		)
		return task
	}
	if !ok {
		// leaving the queue; keep the last known rank until the worker picks it up
		if task.TaskPosition == nil {
			return task.WithPosition(0)
		}
		return task
	}
	return task.WithPosition(pos)
}

// Stream drives one push channel: connection, the current snapshot, then
// every later snapshot until a terminal one was sent. Snapshots that would
// move the status backwards are dropped.
func (s *Service) Stream(ctx context.Context, taskID string, sink Sink) error {
	log := logger.FromContext(ctx, s.logger).With(logger.String("taskId", taskID))

	if err := sink.Send(ctx, models.ConnectionMessage()); err != nil {
		return err
	}

	// subscribe before reading the snapshot so no write falls in between
	sub, err := s.store.Subscribe(ctx, taskID)
	if err != nil {
		log.Error("Failed to subscribe to task updates", logger.Error(err))
		return s.fail(ctx, sink, fmt.Errorf("failed to subscribe to task %s: %w", taskID, err))
	}
	defer sub.Close()

	// an unknown id ends the channel with queue.ErrTaskNotFound
	current, err := s.GetStatus(ctx, taskID)
	if err != nil {
		return s.fail(ctx, sink, err)
	}
	if err := sink.Send(ctx, models.UpdateMessage(current)); err != nil {
		return err
	}

	last := current.TaskStatus
	for !last.Terminal() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-sub.Updates():
			if !ok {
				err := sub.Err()
				if err == nil {
					err = ErrSubscriptionClosed
				}
				log.Warn("Task subscription ended early", logger.Error(err))
				return s.fail(ctx, sink, err)
			}
			if update.TaskStatus.Rank() < last.Rank() {
				log.Debug("Dropping stale update", logger.String("status", string(update.TaskStatus)))
				continue
			}
			update = s.withPosition(ctx, update)
			if err := sink.Send(ctx, models.UpdateMessage(update)); err != nil {
				return err
			}
			last = update.TaskStatus
		}
	}
	return nil
}

// fail sends the single error message that ends a channel and returns cause.
func (s *Service) fail(ctx context.Context, sink Sink, cause error) error {
	if err := sink.Send(ctx, models.ErrorMessage(cause.Error())); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}
