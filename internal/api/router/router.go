package router

import (
	"job-matcher-go/internal/api/handler"

	"github.com/cloudwego/hertz/pkg/app/server"
)

// RegisterRoutes 注册 API 路由
func RegisterRoutes(h *server.Hertz, analyzeHandler *handler.AnalyzeHandler) {
	api := h.Group("/api/v1")

	api.POST("/analyze", analyzeHandler.HandleAnalyze)
	api.GET("/health", analyzeHandler.HandleHealth)
}
