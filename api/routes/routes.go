package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/document-converter/api/handlers"
	"github.com/feichai0017/document-converter/api/middleware"
	"github.com/feichai0017/document-converter/config"
	"github.com/feichai0017/document-converter/pkg/logger"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, cfg config.ServerConfig, log logger.Logger) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.CORS(cfg.AllowOrigins))

	r.GET("/health", h.Document.Health)

	v1 := r.Group("/v1alpha")
	{
		convert := v1.Group("/convert", middleware.BodyLimit(cfg.MaxRequestBodyMB))
		convert.POST("/source", h.Document.ConvertSource)
		convert.POST("/source/async", h.Document.ConvertSourceAsync)

		v1.GET("/status/poll/:task_id", h.Status.PollStatus)
		v1.GET("/status/ws/:task_id", h.Status.WebsocketStatus)

		v1.GET("/result/:task_id", h.Document.GetResult)
		v1.DELETE("/task/:task_id", h.Document.CancelTask)

		v1.GET("/clear/converters", h.Document.ClearConverters)
		v1.GET("/clear/results", h.Document.ClearResults)
	}
}
