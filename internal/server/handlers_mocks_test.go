package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/Janar2510/AgentFlow/internal/domain"
	"github.com/Janar2510/AgentFlow/internal/platform/config"
	"github.com/Janar2510/AgentFlow/internal/realtime"
)

// --- Mock implementations ---

type mockWorkflowRepo struct {
	createFn  func(ctx context.Context, workflow *domain.Workflow) error
	getByIDFn func(ctx context.Context, id uuid.UUID) (*domain.Workflow, error)
	listFn    func(ctx context.Context, limit, offset int) ([]domain.Workflow, error)
	updateFn  func(ctx context.Context, workflow *domain.Workflow) error
	deleteFn  func(ctx context.Context, id uuid.UUID) error
}

func (m *mockWorkflowRepo) Create(ctx context.Context, workflow *domain.Workflow) error {
	if m.createFn != nil {
		return m.createFn(ctx, workflow)
	}
	workflow.ID = uuid.New()
	workflow.CreatedAt = time.Now().UTC()
	workflow.UpdatedAt = workflow.CreatedAt
	if workflow.Status == "" {
		workflow.Status = domain.WorkflowStatusDraft
	}
	return nil
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Workflow, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrWorkflowNotFound
}

func (m *mockWorkflowRepo) List(ctx context.Context, limit, offset int) ([]domain.Workflow, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit, offset)
	}
	return nil, nil
}

func (m *mockWorkflowRepo) Update(ctx context.Context, workflow *domain.Workflow) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, workflow)
	}
	return domain.ErrWorkflowNotFound
}

func (m *mockWorkflowRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return domain.ErrWorkflowNotFound
}

type mockExecutionRepo struct {
	createFn  func(ctx context.Context, execution *domain.Execution) error
	getByIDFn func(ctx context.Context, id uuid.UUID) (*domain.Execution, error)
	listFn    func(ctx context.Context, workflowID uuid.UUID, limit int) ([]domain.Execution, error)
	finishFn  func(ctx context.Context, id uuid.UUID, status string, result map[string]any, errMsg string) error
}

func (m *mockExecutionRepo) Create(ctx context.Context, execution *domain.Execution) error {
	if m.createFn != nil {
		return m.createFn(ctx, execution)
	}
	execution.ID = uuid.New()
	execution.Status = domain.ExecutionStatusPending
	execution.StartedAt = time.Now().UTC()
	return nil
}

func (m *mockExecutionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Execution, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, domain.ErrExecutionNotFound
}

func (m *mockExecutionRepo) ListByWorkflow(ctx context.Context, workflowID uuid.UUID, limit int) ([]domain.Execution, error) {
	if m.listFn != nil {
		return m.listFn(ctx, workflowID, limit)
	}
	return nil, nil
}

func (m *mockExecutionRepo) Finish(ctx context.Context, id uuid.UUID, status string, result map[string]any, errMsg string) error {
	if m.finishFn != nil {
		return m.finishFn(ctx, id, status, result, errMsg)
	}
	return errors.New("not implemented")
}

type mockPublisher struct {
	mu     sync.Mutex
	events []map[string]any
}

func (m *mockPublisher) PublishWorkflowEvent(_ context.Context, _ uuid.UUID, payload map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, payload)
	return nil
}

func (m *mockPublisher) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events))
	for _, ev := range m.events {
		types = append(types, ev["type"].(string))
	}
	return types
}

type pgPingOK struct{}

func (pgPingOK) Ping(context.Context) error { return nil }

type pgPingErr struct{ err error }

func (p pgPingErr) Ping(context.Context) error { return p.err }

// --- Test server setup ---

type serverOption func(*Dependencies)

func withPostgresCheck(checker postgresHealthChecker) serverOption {
	return func(d *Dependencies) { d.Postgres = checker }
}

func withConfigTweak(fn func(*config.Config)) serverOption {
	return func(d *Dependencies) { fn(d.Config) }
}

func newTestServer(t *testing.T, workflows domain.WorkflowRepository, executions domain.ExecutionRepository, opts ...serverOption) (*Server, *mockPublisher) {
	t.Helper()

	cfg := &config.Config{
		AppEnv:                  "development",
		AppURL:                  "http://localhost:8080",
		Port:                    "0",
		WriteTimeout:            time.Second,
		SendBufferSize:          16,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRatePerSecond: 1000,
		ConnectionRateBurst:     1000,
	}

	manager := realtime.NewManager(clockwork.NewRealClock(), realtime.Options{})
	t.Cleanup(manager.Stop)

	publisher := &mockPublisher{}
	deps := Dependencies{
		Config:     cfg,
		Manager:    manager,
		Workflows:  workflows,
		Executions: executions,
		Publisher:  publisher,
		Postgres:   pgPingOK{},
	}
	for _, opt := range opts {
		opt(&deps)
	}

	return NewServer(deps), publisher
}
