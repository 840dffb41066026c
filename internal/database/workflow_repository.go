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

// workflowColumns must match the Scan order in scanWorkflow.
const workflowColumns = `id, name, description, definition, status, created_at, updated_at`

// WorkflowRepo implements domain.WorkflowRepository backed by PostgreSQL.
type WorkflowRepo struct {
	pool *pgxpool.Pool
}

func NewWorkflowRepo(pool *pgxpool.Pool) *WorkflowRepo {
	return &WorkflowRepo{pool: pool}
}

func scanWorkflow(row pgx.Row) (*domain.Workflow, error) {
	var w domain.Workflow
	err := row.Scan(
		&w.ID, &w.Name, &w.Description, &w.Definition,
		&w.Status, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WorkflowRepo) Create(ctx context.Context, workflow *domain.Workflow) error {
	if workflow.Status == "" {
		workflow.Status = domain.WorkflowStatusDraft
	}
	if workflow.Definition == nil {
		workflow.Definition = map[string]any{}
	}

	created, err := scanWorkflow(r.pool.QueryRow(ctx, `
		INSERT INTO workflows (name, description, definition, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+workflowColumns+`
	`, workflow.Name, workflow.Description, workflow.Definition, workflow.Status))
	if err != nil {
		return fmt.Errorf("failed to create workflow: %w", err)
	}

	*workflow = *created
	return nil
}

func (r *WorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	return scanWorkflow(r.pool.QueryRow(ctx,
		`SELECT `+workflowColumns+` FROM workflows WHERE id = $1`, id))
}

func (r *WorkflowRepo) List(ctx context.Context, limit, offset int) ([]domain.Workflow, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+workflowColumns+`
		FROM workflows
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		var w domain.Workflow
		if err := rows.Scan(&w.ID, &w.Name, &w.Description, &w.Definition, &w.Status, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, err
		}
		workflows = append(workflows, w)
	}
	return workflows, rows.Err()
}

func (r *WorkflowRepo) Update(ctx context.Context, workflow *domain.Workflow) error {
	updated, err := scanWorkflow(r.pool.QueryRow(ctx, `
		UPDATE workflows
		SET name = $1, description = $2, definition = $3, status = $4, updated_at = NOW()
		WHERE id = $5
		RETURNING `+workflowColumns+`
	`, workflow.Name, workflow.Description, workflow.Definition, workflow.Status, workflow.ID))
	if err != nil {
		return err
	}

	*workflow = *updated
	return nil
}

func (r *WorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}
