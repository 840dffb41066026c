package database

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/Janar2510/AgentFlow/internal/domain"
)

// CreateTestWorkflow is a helper that creates a workflow with default values
// for testing. Returns the created workflow.
func CreateTestWorkflow(t *testing.T, pool *pgxpool.Pool, name string) *domain.Workflow {
	t.Helper()

	repo := NewWorkflowRepo(pool)
	workflow := &domain.Workflow{
		Name:        name,
		Description: "test workflow",
		Definition:  map[string]any{"nodes": []any{}},
		Status:      domain.WorkflowStatusActive,
	}

	err := repo.Create(context.Background(), workflow)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, workflow.ID)

	return workflow
}

// CreateTestExecution creates a pending execution for a workflow.
func CreateTestExecution(t *testing.T, pool *pgxpool.Pool, workflowID uuid.UUID) *domain.Execution {
	t.Helper()

	repo := NewExecutionRepo(pool)
	execution := &domain.Execution{WorkflowID: workflowID}

	err := repo.Create(context.Background(), execution)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, execution.ID)

	return execution
}
