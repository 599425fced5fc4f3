package handlers

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/status"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const writeWait = 10 * time.Second

// StatusService is what the status endpoints need.
type StatusService interface {
	GetStatus(ctx context.Context, taskID string) (models.TaskStatusResponse, error)
	Stream(ctx context.Context, taskID string, sink status.Sink) error
}

type StatusHandler struct {
	service  StatusService
	upgrader websocket.Upgrader
	logger   logger.Logger
}

func NewStatusHandler(service StatusService, allowOrigins []string, log logger.Logger) *StatusHandler {
	return &StatusHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin(allowOrigins),
		},
		logger: log.Named("api"),
	}
}

func checkOrigin(allowOrigins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowOrigins, "*") || slices.Contains(allowOrigins, origin)
	}
}

// PollStatus 获取任务状态
func (h *StatusHandler) PollStatus(c *gin.Context) {
	task, err := h.service.GetStatus(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// WebsocketStatus pushes task snapshots until the task finishes or the client leaves.
func (h *StatusHandler) WebsocketStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	log := logger.FromContext(c.Request.Context(), h.logger).With(logger.String("taskId", taskID))

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// the upgrader already replied
		log.Warn("Websocket upgrade failed", logger.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// clients never send anything; reading only detects them leaving
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	sink := status.SinkFunc(func(_ context.Context, msg models.WebsocketMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	})

	err = h.service.Stream(ctx, taskID, sink)
	switch {
	case err == nil:
		log.Debug("Task stream finished")
	case errors.Is(err, context.Canceled):
		log.Debug("Client left task stream")
		return
	default:
		log.Info("Task stream ended", logger.Error(err))
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
