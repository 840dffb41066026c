package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Workflow statuses.
const (
	WorkflowStatusDraft    = "draft"
	WorkflowStatusActive   = "active"
	WorkflowStatusArchived = "archived"
)

type Workflow struct {
	ID          uuid.UUID      `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Definition  map[string]any `json:"definition"`
	Status      string         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// WorkflowRepository persists workflows.
type WorkflowRepository interface {
	Create(ctx context.Context, workflow *Workflow) error
	GetByID(ctx context.Context, id uuid.UUID) (*Workflow, error)
	List(ctx context.Context, limit, offset int) ([]Workflow, error)
	Update(ctx context.Context, workflow *Workflow) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// EventPublisher fans workflow events out to interested subscribers, both on
// this instance and on peers.
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, workflowID uuid.UUID, payload map[string]any) error
}
