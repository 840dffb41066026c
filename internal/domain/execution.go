package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Execution statuses.
const (
	ExecutionStatusPending   = "pending"
	ExecutionStatusRunning   = "running"
	ExecutionStatusCompleted = "completed"
	ExecutionStatusFailed    = "failed"
)

type Execution struct {
	ID          uuid.UUID      `json:"id"`
	WorkflowID  uuid.UUID      `json:"workflow_id"`
	Status      string         `json:"status"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// ExecutionRepository persists workflow executions.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *Execution) error
	GetByID(ctx context.Context, id uuid.UUID) (*Execution, error)
	ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]Execution, error)
	Finish(ctx context.Context, id uuid.UUID, status string, result map[string]any, errMsg string) error
}
