package engine

import (
	"time"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

// ExecutionRepo defines the interface for execution persistence, matching
// repository.ExecutionRepository.
type ExecutionRepo interface {
	Save(e *domain.Execution) error
	FindByID(id string) (*domain.Execution, error)
	FindPending(size int, executorGroup string) (*[]domain.Execution, error)
	MarkScheduled(id string, executorID int64, modified time.Time) bool
	LockByModified(id string, modified time.Time) bool
	UpdateStatus(id string, status string) error
	UpdateCurrentState(id string, state string) error
	UpdateStartingTime(id string) error
	SaveVariables(id string, vars string) error
	MarkSucceeded(id string, output string) error
	MarkFailed(id string, kind core.ErrorKind, detail string) error
	RequestCancel(id string) error
	IsCancelRequested(id string) (bool, error)
	ClearExecutor(id string) error
	UpdateNextActivationSpecific(id string, next time.Time) error
	FindStuck(minutesRepair string, executorGroup string, limit int) (*[]domain.Execution, error)
	Search(req models.SearchExecutionsRequest) (*[]domain.Execution, error)
}

// HistoryRepo defines the interface for state record persistence.
type HistoryRepo interface {
	Append(rec *domain.StateRecord) (int64, error)
	FindByExecutionID(executionID string) (*[]domain.StateRecord, error)
}

// DefinitionRepo defines the interface for definition record persistence.
type DefinitionRepo interface {
	FindAll() (*[]domain.DefinitionRecord, error)
	FindByName(name string) (*domain.DefinitionRecord, error)
	Save(def *domain.DefinitionRecord) error
}

// ExecutorRepo defines the interface for executor persistence.
type ExecutorRepo interface {
	Save(e *domain.Executor) (int64, error)
	UpdateLastActive(id int64, ts time.Time) error
	GetExecutorsByLastActive(limit int) ([]*domain.Executor, error)
}

// UserRepo defines the interface for user persistence.
type UserRepo interface {
	FindBySessionID(sessionID string, now time.Time) (*domain.User, error)
	FindByApiKey(apiKey string) (*domain.User, error)
	FindByUsername(username string) (*domain.User, error)
	FindAll() (*[]domain.User, error)
	Save(user *domain.User) (int64, error)
	UpdateSession(userID int64, sessionID string, expiry time.Time) error
	CountUsers() (int, error)
}
