package server

import (
	stderrors "errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Janar2510/AgentFlow/internal/domain"
	"github.com/Janar2510/AgentFlow/internal/platform/errors"
)

const (
	defaultPageSize  = 50
	maxPageSize      = 200
	maxExecutionList = 100
)

type workflowRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Definition  map[string]any `json:"definition"`
	Status      string         `json:"status"`
}

func (s *Server) handleCreateWorkflow(c echo.Context) error {
	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid request body")
	}
	if req.Name == "" {
		return errors.ValidationError("name is required")
	}

	workflow := &domain.Workflow{
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		Status:      req.Status,
	}
	if err := s.workflows.Create(c.Request().Context(), workflow); err != nil {
		return errors.InternalError("failed to create workflow", err)
	}

	return c.JSON(http.StatusCreated, workflow)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	limit := intQueryParam(c, "limit", defaultPageSize, maxPageSize)
	offset := intQueryParam(c, "offset", 0, 1<<30)

	workflows, err := s.workflows.List(c.Request().Context(), limit, offset)
	if err != nil {
		return errors.InternalError("failed to list workflows", err)
	}
	if workflows == nil {
		workflows = []domain.Workflow{}
	}

	return c.JSON(http.StatusOK, map[string]any{"workflows": workflows})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	workflow, err := s.workflows.GetByID(c.Request().Context(), id)
	if stderrors.Is(err, domain.ErrWorkflowNotFound) {
		return errors.NotFoundError("workflow not found")
	}
	if err != nil {
		return errors.InternalError("failed to load workflow", err)
	}

	return c.JSON(http.StatusOK, workflow)
}

func (s *Server) handleUpdateWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	var req workflowRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid request body")
	}
	if req.Name == "" {
		return errors.ValidationError("name is required")
	}

	workflow := &domain.Workflow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Definition:  req.Definition,
		Status:      req.Status,
	}
	if workflow.Status == "" {
		workflow.Status = domain.WorkflowStatusDraft
	}

	err = s.workflows.Update(c.Request().Context(), workflow)
	if stderrors.Is(err, domain.ErrWorkflowNotFound) {
		return errors.NotFoundError("workflow not found")
	}
	if err != nil {
		return errors.InternalError("failed to update workflow", err)
	}

	s.publishWorkflowEvent(c, id, map[string]any{
		"type":        "workflow_updated",
		"workflow_id": id.String(),
	})

	return c.JSON(http.StatusOK, workflow)
}

func (s *Server) handleDeleteWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	err = s.workflows.Delete(c.Request().Context(), id)
	if stderrors.Is(err, domain.ErrWorkflowNotFound) {
		return errors.NotFoundError("workflow not found")
	}
	if err != nil {
		return errors.InternalError("failed to delete workflow", err)
	}

	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleExecuteWorkflow(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	ctx := c.Request().Context()
	if _, err := s.workflows.GetByID(ctx, id); err != nil {
		if stderrors.Is(err, domain.ErrWorkflowNotFound) {
			return errors.NotFoundError("workflow not found")
		}
		return errors.InternalError("failed to load workflow", err)
	}

	execution := &domain.Execution{WorkflowID: id}
	if err := s.executions.Create(ctx, execution); err != nil {
		return errors.InternalError("failed to create execution", err)
	}

	s.publishWorkflowEvent(c, id, map[string]any{
		"type":         "execution_started",
		"workflow_id":  id.String(),
		"execution_id": execution.ID.String(),
		"status":       execution.Status,
	})

	return c.JSON(http.StatusAccepted, execution)
}

type executionResultRequest struct {
	Status string         `json:"status"`
	Result map[string]any `json:"result"`
	Error  string         `json:"error"`
}

// handleFinishExecution records the outcome a worker reports for an execution
// and notifies the workflow's realtime subscribers.
func (s *Server) handleFinishExecution(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid execution id")
	}

	var req executionResultRequest
	if err := c.Bind(&req); err != nil {
		return errors.ValidationError("invalid request body")
	}
	if req.Status != domain.ExecutionStatusCompleted && req.Status != domain.ExecutionStatusFailed {
		return errors.ValidationError("status must be completed or failed")
	}

	ctx := c.Request().Context()
	execution, err := s.executions.GetByID(ctx, id)
	if stderrors.Is(err, domain.ErrExecutionNotFound) {
		return errors.NotFoundError("execution not found")
	}
	if err != nil {
		return errors.InternalError("failed to load execution", err)
	}

	if err := s.executions.Finish(ctx, id, req.Status, req.Result, req.Error); err != nil {
		return errors.InternalError("failed to finish execution", err)
	}

	s.publishWorkflowEvent(c, execution.WorkflowID, map[string]any{
		"type":         "execution_completed",
		"workflow_id":  execution.WorkflowID.String(),
		"execution_id": id.String(),
		"status":       req.Status,
	})

	return c.JSON(http.StatusOK, map[string]any{"id": id.String(), "status": req.Status})
}

func (s *Server) handleListExecutions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return errors.ValidationError("invalid workflow id")
	}

	limit := intQueryParam(c, "limit", defaultPageSize, maxExecutionList)
	executions, err := s.executions.ListByWorkflow(c.Request().Context(), id, limit)
	if err != nil {
		return errors.InternalError("failed to list executions", err)
	}
	if executions == nil {
		executions = []domain.Execution{}
	}

	return c.JSON(http.StatusOK, map[string]any{"executions": executions})
}

func (s *Server) handleRealtimeStats(c echo.Context) error {
	stats, err := s.manager.Stats()
	if err != nil {
		return errors.InternalError("failed to collect realtime stats", err)
	}

	channels := make(map[string]int, len(stats.ChannelSubscribers))
	for channel, count := range stats.ChannelSubscribers {
		channels[channel] = count
	}

	return c.JSON(http.StatusOK, map[string]any{
		"total_connections":   stats.ConnectionCount,
		"active_channels":     stats.ChannelCount,
		"channel_subscribers": channels,
	})
}

// publishWorkflowEvent notifies realtime subscribers; failures are logged by
// the publisher path and never fail the HTTP request.
func (s *Server) publishWorkflowEvent(c echo.Context, workflowID uuid.UUID, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishWorkflowEvent(c.Request().Context(), workflowID, payload); err != nil {
		slog.Warn("Failed to publish workflow event", "workflow_id", workflowID.String(), "error", err)
	}
}

func intQueryParam(c echo.Context, name string, fallback, max int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}
