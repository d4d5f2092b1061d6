package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowmill/flowmill/internal/config"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

// Manager owns the definition registry and the polling loop that feeds
// claimed executions to the worker pool. Definitions are registered once,
// compiled, and shared read-only; executions never share a variable scope.
type Manager struct {
	ExecutionRepo  ExecutionRepo
	HistoryRepo    HistoryRepo
	DefinitionRepo DefinitionRepo
	executorRepo   ExecutorRepo
	engine         *Engine
	clock          core.Clock

	registryMu sync.RWMutex
	registry   map[string]*definition.Definition

	queue      chan Job
	wakeup     chan struct{}
	executorID int64
}

func NewManager(executionRepo ExecutionRepo, historyRepo HistoryRepo, definitionRepo DefinitionRepo,
	executorRepo ExecutorRepo, engine *Engine, clock core.Clock) *Manager {
	return &Manager{
		ExecutionRepo:  executionRepo,
		HistoryRepo:    historyRepo,
		DefinitionRepo: definitionRepo,
		executorRepo:   executorRepo,
		engine:         engine,
		clock:          clock,
		registry:       make(map[string]*definition.Definition),
		wakeup:         make(chan struct{}, 1),
	}
}

// RegisterDefinition validates a raw definition document, persists it and
// caches the compiled form. No partial registration: a document with any
// validation finding is rejected as a whole.
func (m *Manager) RegisterDefinition(doc []byte) (*definition.Definition, error) {
	def, err := definition.Parse(doc)
	if err != nil {
		return nil, err
	}
	for _, name := range def.Unreachable() {
		slog.Warn("Definition has unreachable state", "definition", def.Name, "state", name)
	}
	rec := &domain.DefinitionRecord{
		Name:        def.Name,
		Description: def.Description,
		Source:      string(doc),
		Created:     m.clock.Now(),
		Updated:     m.clock.Now(),
	}
	if err := m.DefinitionRepo.Save(rec); err != nil {
		return nil, fmt.Errorf("persist definition %q: %w", def.Name, err)
	}
	m.registryMu.Lock()
	m.registry[def.Name] = def
	m.registryMu.Unlock()
	slog.Info("Registered workflow definition", "name", def.Name, "states", len(def.Order))
	return def, nil
}

// Definition returns the compiled definition by name.
func (m *Manager) Definition(name string) (*definition.Definition, bool) {
	m.registryMu.RLock()
	defer m.registryMu.RUnlock()
	def, ok := m.registry[name]
	return def, ok
}

// ListDefinitions exposes the repository list for the API layer.
func (m *Manager) ListDefinitions() (*[]domain.DefinitionRecord, error) {
	return m.DefinitionRepo.FindAll()
}

// GetDefinitionByName exposes the repository get for the API layer.
func (m *Manager) GetDefinitionByName(name string) (*domain.DefinitionRecord, error) {
	return m.DefinitionRepo.FindByName(name)
}

// ListExecutors returns recent executors ordered by last_active desc.
func (m *Manager) ListExecutors(limit int) ([]*domain.Executor, error) {
	return m.executorRepo.GetExecutorsByLastActive(limit)
}

// SearchExecutions delegates to the repository.
func (m *Manager) SearchExecutions(req models.SearchExecutionsRequest) (*[]domain.Execution, error) {
	return m.ExecutionRepo.Search(req)
}

// StartExecution creates a pending execution of a registered definition with
// the triggering input under the reserved "input" variable key, then wakes
// the poll loop. Returns the new execution identifier.
func (m *Manager) StartExecution(definitionName string, input map[string]any, businessKey string, executorGroup string) (string, error) {
	def, ok := m.Definition(definitionName)
	if !ok {
		return "", fmt.Errorf("no definition registered with name %q", definitionName)
	}
	if executorGroup == "" {
		executorGroup = config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP)
	}
	if input == nil {
		input = map[string]any{}
	}
	now := m.clock.Now()
	exec := &domain.Execution{
		ID:             uuid.NewString(),
		Status:         domain.StatusPending,
		DefinitionName: def.Name,
		CurrentState:   def.StartAt,
		Variables:      sql.NullString{String: encodeJSON(map[string]any{VarInput: input}), Valid: true},
		Created:        now,
		Modified:       now,
		NextActivation: sql.NullTime{Time: now, Valid: true},
		ExecutorGroup:  executorGroup,
		BusinessKey:    businessKey,
	}
	if err := m.ExecutionRepo.Save(exec); err != nil {
		return "", err
	}
	slog.Info("Created execution", "execution_id", exec.ID, "definition", def.Name, "business_key", businessKey)
	m.Wakeup()
	return exec.ID, nil
}

// CancelExecution raises the cancel flag; the owning loop observes it at the
// next suspension boundary.
func (m *Manager) CancelExecution(id string) error {
	if err := m.ExecutionRepo.RequestCancel(id); err != nil {
		return err
	}
	slog.Info("Cancellation requested", "execution_id", id)
	m.Wakeup()
	return nil
}

// StartEngine loads persisted definitions, registers this executor, starts
// the worker pool and polls for due executions at the given interval.
func (m *Manager) StartEngine(ctx context.Context, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	m.registerExecutorInstance(ctx)
	m.loadPersistedDefinitions(ctx)

	go m.startExecutionRepairService(ctx)

	queueSize := config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE)
	if queueSize <= 0 {
		queueSize = 10 // fallback default
	}
	m.queue = make(chan Job, queueSize)

	workers := config.GetSystemSettingInteger(config.ENGINE_EXECUTOR_SIZE)
	slog.Info("Starting workflow engine", "workers", workers, "queue_size", queueSize)
	for i := 0; i < workers; i++ {
		go Worker(ctx, i, m.engine, m.queue)
	}

	slog.Info("Workflow engine started", "poll_interval", pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Workflow engine stopping due to context cancel")
			return
		case <-ticker.C:
			m.pollAndRunExecutions(ctx)
		case <-m.wakeup:
			m.pollAndRunExecutions(ctx)
		}
	}
}

// loadPersistedDefinitions recompiles every stored definition into the
// registry so executions survive a restart.
func (m *Manager) loadPersistedDefinitions(ctx context.Context) {
	recs, err := m.DefinitionRepo.FindAll()
	if err != nil {
		slog.ErrorContext(ctx, "Error loading persisted definitions", "error", err)
		return
	}
	for _, rec := range *recs {
		def, err := definition.Parse([]byte(rec.Source))
		if err != nil {
			slog.ErrorContext(ctx, "Stored definition no longer validates, skipping", "name", rec.Name, "error", err)
			continue
		}
		m.registryMu.Lock()
		m.registry[def.Name] = def
		m.registryMu.Unlock()
		slog.InfoContext(ctx, "Loaded workflow definition", "name", def.Name)
	}
}

// pollAndRunExecutions claims due executions and feeds them to the workers.
func (m *Manager) pollAndRunExecutions(ctx context.Context) {
	slog.Debug("Polling for due executions")

	if len(m.queue) >= cap(m.queue) {
		slog.Warn("execution queue full, skipping poll, possibly stuck or long running executions")
		return
	}

	executions, err := m.ExecutionRepo.FindPending(
		config.GetSystemSettingInteger(config.ENGINE_BATCH_SIZE),
		config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
	)
	if err != nil {
		slog.Error("Error fetching executions", "error", err)
		return
	}

	for _, exec := range *executions {
		def, ok := m.Definition(exec.DefinitionName)
		if !ok {
			slog.Warn("Execution references unknown definition, leaving for repair", "execution_id", exec.ID, "definition", exec.DefinitionName)
			continue
		}

		slog.InfoContext(ctx, "Claiming execution", "execution_id", exec.ID, "business_key", exec.BusinessKey)
		if !m.ExecutionRepo.MarkScheduled(exec.ID, m.executorID, exec.Modified) {
			slog.InfoContext(ctx, "Unable to claim execution, possibly picked up by another executor", "execution_id", exec.ID)
			continue
		}

		job := Job{Execution: &exec, Definition: def}
		select {
		case m.queue <- job:
			slog.InfoContext(ctx, "Queued execution", "execution_id", exec.ID)
		default:
			// queue filled while claiming; release so another poll retries
			if err := m.ExecutionRepo.ClearExecutor(exec.ID); err != nil {
				slog.Error("Error releasing claimed execution", "error", err, "execution_id", exec.ID)
			}
			return
		}
	}
}

// startExecutionRepairService re-queues executions whose executor went
// silent; they will be in SCHEDULED or EXECUTING with a stale heartbeat.
func (m *Manager) startExecutionRepairService(ctx context.Context) {
	dur, err := time.ParseDuration(config.GetSystemSettingString(config.ENGINE_STUCK_EXECUTIONS_INTERVAL))
	if err != nil || dur <= 0 {
		slog.Warn("Invalid stuck executions interval, falling back to one minute", "error", err)
		dur = time.Minute
	}
	ticker := time.NewTicker(dur)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Execution repair service stopping due to context cancel")
			return
		case <-ticker.C:
			stuck, err := m.ExecutionRepo.FindStuck(
				config.GetSystemSettingString(config.ENGINE_STUCK_EXECUTIONS_REPAIR_AFTER_MINUTES),
				config.GetSystemSettingString(config.ENGINE_EXECUTOR_GROUP),
				100)
			if err != nil {
				slog.Error("Error finding stuck executions", "error", err)
				continue
			}
			for _, exec := range *stuck {
				slog.Warn("Repairing stuck execution", "execution_id", exec.ID, "business_key", exec.BusinessKey, "state", exec.CurrentState, "status", exec.Status)
				if m.ExecutionRepo.LockByModified(exec.ID, exec.Modified) {
					if err := m.ExecutionRepo.UpdateStatus(exec.ID, domain.StatusExecuting); err != nil {
						slog.ErrorContext(ctx, "Failed to repair execution status", "execution_id", exec.ID, "error", err)
					}
					if err := m.ExecutionRepo.UpdateNextActivationSpecific(exec.ID, m.clock.Now()); err != nil {
						slog.ErrorContext(ctx, "Failed to repair execution next activation", "execution_id", exec.ID, "error", err)
					}
					if err := m.ExecutionRepo.ClearExecutor(exec.ID); err != nil {
						slog.ErrorContext(ctx, "Failed to repair clear executor id", "execution_id", exec.ID, "error", err)
					}
				}
			}
		}
	}
}

func (m *Manager) registerExecutorInstance(ctx context.Context) {
	name := config.GetSystemSettingString(config.EXECUTOR_NAME)
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "flowmill-engine"
		} else {
			name = hostname
		}
	}
	exec := &domain.Executor{Name: name, Started: m.clock.Now(), LastActive: m.clock.Now()}
	id, err := m.executorRepo.Save(exec)
	if err != nil {
		slog.Error("Failed to register executor", "error", err)
		return
	}
	m.executorID = id
	slog.Info("Registered executor", "executor_id", id, "name", name)

	hb := time.NewTicker(30 * time.Second)
	go func(executorID int64) {
		for {
			select {
			case <-ctx.Done():
				hb.Stop()
				return
			case <-hb.C:
				if err := m.executorRepo.UpdateLastActive(executorID, m.clock.Now()); err != nil {
					slog.Error("Failed to update executor last_active", "executor_id", executorID, "error", err)
				}
			}
		}
	}(id)
}

func (m *Manager) Wakeup() {
	select {
	case m.wakeup <- struct{}{}:
	default:
	}
}
