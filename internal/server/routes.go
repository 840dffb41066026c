package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Workflow API
	api := s.echo.Group("/api/v1")
	api.POST("/workflows", s.handleCreateWorkflow)
	api.GET("/workflows", s.handleListWorkflows)
	api.GET("/workflows/:id", s.handleGetWorkflow)
	api.PUT("/workflows/:id", s.handleUpdateWorkflow)
	api.DELETE("/workflows/:id", s.handleDeleteWorkflow)
	api.POST("/workflows/:id/execute", s.handleExecuteWorkflow)
	api.GET("/workflows/:id/executions", s.handleListExecutions)
	api.PUT("/executions/:id/result", s.handleFinishExecution)
	api.GET("/realtime/stats", s.handleRealtimeStats)

	// WebSocket endpoints
	s.echo.GET("/ws", s.handleWebSocket)
	s.echo.GET("/ws/workflow/:id", s.handleWorkflowWebSocket)
}
