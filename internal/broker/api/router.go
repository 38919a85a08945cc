package api

import (
	"github.com/gin-gonic/gin"

	"github.com/vigilops/vigilops/internal/broker"
	"github.com/vigilops/vigilops/internal/broker/streaming"
	"github.com/vigilops/vigilops/internal/common/logger"
)

// SetupRoutes configures the broker API routes. The file download route is
// registered at the engine root, not here, so its path stays unversioned.
func SetupRoutes(router *gin.RouterGroup, service *broker.Service, hub *streaming.Hub, log *logger.Logger) {
	handler := NewHandler(service, log)

	// Investigation lifecycle
	router.POST("/investigate", handler.Investigate)
	router.POST("/interrupt", handler.Interrupt)
	router.POST("/answer", handler.Answer)

	// Sandbox administration
	router.GET("/sandboxes", handler.ListSandboxes)
	router.DELETE("/sandboxes/:thread_id", handler.DeleteSandbox)

	// Investigation records
	router.GET("/threads/:thread_id/history", handler.History)

	// Read-only event stream observers
	router.GET("/ws/threads/:thread_id", streaming.ServeWS(hub, log))
}
