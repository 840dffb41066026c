package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Janar2510/AgentFlow/internal/domain"
)

// executionColumns must match the Scan order in scanExecution.
const executionColumns = `id, workflow_id, status, result, error, started_at, completed_at`

// ExecutionRepo implements domain.ExecutionRepository backed by PostgreSQL.
type ExecutionRepo struct {
	pool *pgxpool.Pool
}

func NewExecutionRepo(pool *pgxpool.Pool) *ExecutionRepo {
	return &ExecutionRepo{pool: pool}
}

func scanExecution(row pgx.Row) (*domain.Execution, error) {
	var e domain.Execution
	err := row.Scan(
		&e.ID, &e.WorkflowID, &e.Status, &e.Result,
		&e.Error, &e.StartedAt, &e.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrExecutionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExecutionRepo) Create(ctx context.Context, execution *domain.Execution) error {
	if execution.Status == "" {
		execution.Status = domain.ExecutionStatusPending
	}

	created, err := scanExecution(r.pool.QueryRow(ctx, `
		INSERT INTO executions (workflow_id, status)
		VALUES ($1, $2)
		RETURNING `+executionColumns+`
	`, execution.WorkflowID, execution.Status))
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	*execution = *created
	return nil
}

func (r *ExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	return scanExecution(r.pool.QueryRow(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE id = $1`, id))
}

func (r *ExecutionRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]domain.Execution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+executionColumns+`
		FROM executions
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		var e domain.Execution
		if err := rows.Scan(&e.ID, &e.WorkflowID, &e.Status, &e.Result, &e.Error, &e.StartedAt, &e.CompletedAt); err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, rows.Err()
}

func (r *ExecutionRepo) Finish(ctx context.Context, id uuid.UUID, status string, result map[string]any, errMsg string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE executions
		SET status = $1, result = $2, error = $3, completed_at = NOW()
		WHERE id = $4
	`, status, result, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to finish execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExecutionNotFound
	}
	return nil
}
