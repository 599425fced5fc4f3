package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/service/convert"
	"github.com/feichai0017/document-converter/pkg/logger"
)

const defaultClearOlderThan = time.Hour

// ConversionService is what the document endpoints need from the convert service.
type ConversionService interface {
	Convert(ctx context.Context, req models.ConvertDocumentsRequest) (*convert.Result, error)
	Submit(ctx context.Context, req models.ConvertDocumentsRequest) (models.TaskStatusResponse, error)
	Cancel(ctx context.Context, taskID string) (models.TaskStatusResponse, error)
	Result(ctx context.Context, taskID string) (*convert.Payload, error)
	ClearConverters()
	ClearResults(ctx context.Context, olderThan time.Duration) (int, error)
}

type DocumentHandler struct {
	service ConversionService
	logger  logger.Logger
}

func NewDocumentHandler(service ConversionService, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service: service,
		logger:  log.Named("api"),
	}
}

// ConvertSource 同步转换
func (h *DocumentHandler) ConvertSource(c *gin.Context) {
	var req models.ConvertDocumentsRequest
	if err := bindRequest(c, &req); err != nil {
		handleError(c, h.logger, "Invalid conversion request", err)
		return
	}

	result, err := h.service.Convert(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, "Failed to convert sources", err)
		return
	}

	payload, err := result.Payload()
	if err != nil {
		handleError(c, h.logger, "Failed to serialize result", err)
		return
	}
	writePayload(c, payload)
}

// ConvertSourceAsync 提交异步转换任务
func (h *DocumentHandler) ConvertSourceAsync(c *gin.Context) {
	var req models.ConvertDocumentsRequest
	if err := bindRequest(c, &req); err != nil {
		handleError(c, h.logger, "Invalid conversion request", err)
		return
	}

	task, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		handleError(c, h.logger, "Failed to submit task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// GetResult 下载处理结果
func (h *DocumentHandler) GetResult(c *gin.Context) {
	payload, err := h.service.Result(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		handleError(c, h.logger, "Failed to get result", err)
		return
	}
	writePayload(c, payload)
}

// CancelTask 取消处理任务
func (h *DocumentHandler) CancelTask(c *gin.Context) {
	task, err := h.service.Cancel(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		handleError(c, h.logger, "Failed to cancel task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ClearConverters drops cached conversions.
func (h *DocumentHandler) ClearConverters(c *gin.Context) {
	h.service.ClearConverters()
	c.JSON(http.StatusOK, models.OK())
}

// ClearResults removes stored results older than older_then seconds.
func (h *DocumentHandler) ClearResults(c *gin.Context) {
	olderThan := defaultClearOlderThan
	if raw := c.Query("older_then"); raw != "" {
		seconds, err := strconv.ParseFloat(raw, 64)
		if err != nil || seconds < 0 {
			verr := &models.ValidationError{Fields: []models.FieldError{{
				Field:   "older_then",
				Message: fmt.Sprintf("must be a non-negative number of seconds, got %q", raw),
			}}}
			handleError(c, h.logger, "Invalid clear request", verr)
			return
		}
		olderThan = time.Duration(seconds * float64(time.Second))
	}

	if _, err := h.service.ClearResults(c.Request.Context(), olderThan); err != nil {
		handleError(c, h.logger, "Failed to clear results", err)
		return
	}
	c.JSON(http.StatusOK, models.OK())
}

// Health 健康检查
func (h *DocumentHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.OK())
}

func writePayload(c *gin.Context, payload *convert.Payload) {
	if payload.Filename != "" {
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", payload.Filename))
	}
	c.Data(http.StatusOK, payload.ContentType, payload.Body)
}
