package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/flowmill/flowmill/internal/config"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
)

type MockDefinitionRepo struct {
	FindAllFunc    func() (*[]domain.DefinitionRecord, error)
	FindByNameFunc func(name string) (*domain.DefinitionRecord, error)
	SaveFunc       func(def *domain.DefinitionRecord) error
}

func (m *MockDefinitionRepo) FindAll() (*[]domain.DefinitionRecord, error) {
	if m.FindAllFunc != nil {
		return m.FindAllFunc()
	}
	return &[]domain.DefinitionRecord{}, nil
}
func (m *MockDefinitionRepo) FindByName(name string) (*domain.DefinitionRecord, error) {
	if m.FindByNameFunc != nil {
		return m.FindByNameFunc(name)
	}
	return nil, nil
}
func (m *MockDefinitionRepo) Save(def *domain.DefinitionRecord) error {
	if m.SaveFunc != nil {
		return m.SaveFunc(def)
	}
	return nil
}

type MockExecutorRepo struct {
	SaveFunc                     func(e *domain.Executor) (int64, error)
	UpdateLastActiveFunc         func(id int64, ts time.Time) error
	GetExecutorsByLastActiveFunc func(limit int) ([]*domain.Executor, error)
}

func (m *MockExecutorRepo) Save(e *domain.Executor) (int64, error) {
	if m.SaveFunc != nil {
		return m.SaveFunc(e)
	}
	return 1, nil
}
func (m *MockExecutorRepo) UpdateLastActive(id int64, ts time.Time) error {
	if m.UpdateLastActiveFunc != nil {
		return m.UpdateLastActiveFunc(id, ts)
	}
	return nil
}
func (m *MockExecutorRepo) GetExecutorsByLastActive(limit int) ([]*domain.Executor, error) {
	if m.GetExecutorsByLastActiveFunc != nil {
		return m.GetExecutorsByLastActiveFunc(limit)
	}
	return nil, nil
}

const managerTestDoc = `
name: two-step
startAt: First
states:
  First:
    type: pass
    assign:
      x: '1'
    next: Done
  Done:
    type: succeed
`

func newTestManager(execRepo ExecutionRepo, defRepo DefinitionRepo) *Manager {
	historyRepo := &memHistoryRepo{}
	eng := NewEngine(execRepo, historyRepo, &fakeInvoker{}, core.RealClock{}, Options{})
	return NewManager(execRepo, historyRepo, defRepo, &MockExecutorRepo{}, eng, core.RealClock{})
}

func TestManager_RegisterDefinition(t *testing.T) {
	var saved *domain.DefinitionRecord
	defRepo := &MockDefinitionRepo{
		SaveFunc: func(def *domain.DefinitionRecord) error {
			saved = def
			return nil
		},
	}
	m := newTestManager(newMemExecutionRepo(), defRepo)

	def, err := m.RegisterDefinition([]byte(managerTestDoc))
	if err != nil {
		t.Fatalf("RegisterDefinition returned error: %v", err)
	}
	if def.Name != "two-step" {
		t.Errorf("Expected name two-step, got %s", def.Name)
	}
	if saved == nil || saved.Source != managerTestDoc {
		t.Error("Expected the raw source to be persisted")
	}
	if _, ok := m.Definition("two-step"); !ok {
		t.Error("Expected the compiled definition to be cached")
	}
}

func TestManager_RegisterDefinitionRejectsInvalid(t *testing.T) {
	m := newTestManager(newMemExecutionRepo(), &MockDefinitionRepo{})

	_, err := m.RegisterDefinition([]byte("name: broken\nstates:\n  A:\n    type: succeed\n"))
	if err == nil {
		t.Fatal("Expected a validation error")
	}
	if !strings.Contains(err.Error(), "startAt") {
		t.Errorf("Expected startAt finding, got %v", err)
	}
	if _, ok := m.Definition("broken"); ok {
		t.Error("A rejected definition must not be cached")
	}
}

func TestManager_StartExecution(t *testing.T) {
	execRepo := newMemExecutionRepo()
	m := newTestManager(execRepo, &MockDefinitionRepo{})
	if _, err := m.RegisterDefinition([]byte(managerTestDoc)); err != nil {
		t.Fatalf("RegisterDefinition returned error: %v", err)
	}

	id, err := m.StartExecution("two-step", map[string]any{"orderId": 42}, "bk-1", "")
	if err != nil {
		t.Fatalf("StartExecution returned error: %v", err)
	}
	if id == "" {
		t.Fatal("Expected a non-empty execution id")
	}

	exec, _ := execRepo.FindByID(id)
	if exec == nil {
		t.Fatal("Expected the execution to be persisted")
	}
	if exec.Status != domain.StatusPending {
		t.Errorf("Expected status PENDING, got %s", exec.Status)
	}
	if exec.CurrentState != "First" {
		t.Errorf("Expected current state First, got %s", exec.CurrentState)
	}
	if exec.BusinessKey != "bk-1" {
		t.Errorf("Expected business key bk-1, got %s", exec.BusinessKey)
	}

	var vars map[string]any
	if err := json.Unmarshal([]byte(exec.Variables.String), &vars); err != nil {
		t.Fatalf("Failed to decode variables: %v", err)
	}
	input, ok := vars[VarInput].(map[string]any)
	if !ok || input["orderId"] != float64(42) {
		t.Errorf("Expected trigger input under the reserved input key, got %v", vars)
	}

	// the poll loop must have been woken
	select {
	case <-m.wakeup:
	default:
		t.Error("Expected a wakeup signal after StartExecution")
	}
}

func TestManager_StartExecutionUnknownDefinition(t *testing.T) {
	m := newTestManager(newMemExecutionRepo(), &MockDefinitionRepo{})

	_, err := m.StartExecution("ghost", nil, "", "")
	if err == nil {
		t.Fatal("Expected an error for an unregistered definition")
	}
}

func TestManager_CancelExecution(t *testing.T) {
	execRepo := newMemExecutionRepo()
	m := newTestManager(execRepo, &MockDefinitionRepo{})

	if err := m.CancelExecution("exec-9"); err != nil {
		t.Fatalf("CancelExecution returned error: %v", err)
	}
	cancelled, _ := execRepo.IsCancelRequested("exec-9")
	if !cancelled {
		t.Error("Expected the cancel flag to be raised")
	}
}

func TestManager_PollAndRunExecutions(t *testing.T) {
	execRepo := newMemExecutionRepo()
	m := newTestManager(execRepo, &MockDefinitionRepo{})
	if _, err := m.RegisterDefinition([]byte(managerTestDoc)); err != nil {
		t.Fatalf("RegisterDefinition returned error: %v", err)
	}
	m.queue = make(chan Job, 4)

	id, err := m.StartExecution("two-step", nil, "", "default")
	if err != nil {
		t.Fatalf("StartExecution returned error: %v", err)
	}

	m.pollAndRunExecutions(context.Background())

	select {
	case job := <-m.queue:
		if job.Execution.ID != id {
			t.Errorf("Expected queued execution %s, got %s", id, job.Execution.ID)
		}
		if job.Definition.Name != "two-step" {
			t.Errorf("Expected the compiled definition on the job, got %s", job.Definition.Name)
		}
	default:
		t.Fatal("Expected the pending execution to be claimed and queued")
	}

	exec, _ := execRepo.FindByID(id)
	if exec.Status != domain.StatusScheduled {
		t.Errorf("Expected claimed execution to be SCHEDULED, got %s", exec.Status)
	}
}

func TestManager_PollSkipsWhenClaimLost(t *testing.T) {
	execRepo := newMemExecutionRepo()
	execRepo.scheduleDenied = true
	m := newTestManager(execRepo, &MockDefinitionRepo{})
	if _, err := m.RegisterDefinition([]byte(managerTestDoc)); err != nil {
		t.Fatalf("RegisterDefinition returned error: %v", err)
	}
	m.queue = make(chan Job, 4)

	if _, err := m.StartExecution("two-step", nil, "", "default"); err != nil {
		t.Fatalf("StartExecution returned error: %v", err)
	}

	m.pollAndRunExecutions(context.Background())

	if len(m.queue) != 0 {
		t.Error("Expected nothing queued when another executor holds the claim")
	}
}

func TestManager_LoadPersistedDefinitions(t *testing.T) {
	defRepo := &MockDefinitionRepo{
		FindAllFunc: func() (*[]domain.DefinitionRecord, error) {
			return &[]domain.DefinitionRecord{{Name: "two-step", Source: managerTestDoc}}, nil
		},
	}
	m := newTestManager(newMemExecutionRepo(), defRepo)

	m.loadPersistedDefinitions(context.Background())

	if _, ok := m.Definition("two-step"); !ok {
		t.Error("Expected the stored definition to be recompiled into the registry")
	}
}

func TestManager_RepairServiceToleratesBadInterval(t *testing.T) {
	t.Setenv(config.ENGINE_STUCK_EXECUTIONS_INTERVAL, "not-a-duration")
	m := newTestManager(newMemExecutionRepo(), &MockDefinitionRepo{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.startExecutionRepairService(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Expected the repair service to stop on context cancel")
	}
}
