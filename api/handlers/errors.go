package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/internal/models"
	"github.com/feichai0017/document-converter/internal/service/convert"
	"github.com/feichai0017/document-converter/pkg/logger"
	"github.com/feichai0017/document-converter/pkg/queue"
)

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []models.FieldError `json:"fields,omitempty"`
}

var errBadRequest = errors.New("malformed request body")

// bindRequest decodes the JSON body. Shape errors of the request itself
// surface as *models.ValidationError.
func bindRequest(c *gin.Context, req *models.ConvertDocumentsRequest) error {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return nil
	}
	var (
		verr    *models.ValidationError
		sizeErr *http.MaxBytesError
	)
	if errors.As(err, &verr) || errors.As(err, &sizeErr) {
		return err
	}
	return fmt.Errorf("%w: %v", errBadRequest, err)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var (
		verr    *models.ValidationError
		sizeErr *http.MaxBytesError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &sizeErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, queue.ErrTaskNotFound), errors.Is(err, queue.ErrResultNotFound):
		return http.StatusNotFound
	case errors.Is(err, convert.ErrTaskNotFinished), errors.Is(err, models.ErrTerminalTask):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	log = logger.FromContext(c.Request.Context(), log)
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{
		Error:   err.Error(),
		Message: message,
	}
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		response.Fields = verr.Fields
	}
	c.AbortWithStatusJSON(status, response)
}
