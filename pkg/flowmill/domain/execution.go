package domain

import (
	"database/sql"
	"time"
)

// Execution is one run of a workflow definition, as persisted. The engine's
// loop is the only writer while the execution is live.
type Execution struct {
	ID              string
	Status          string
	DefinitionName  string
	CurrentState    string
	Variables       sql.NullString
	Output          sql.NullString
	ErrorKind       sql.NullString
	ErrorDetail     sql.NullString
	ExecutionCount  int
	CancelRequested bool
	Created         time.Time
	Modified        time.Time
	NextActivation  sql.NullTime
	Started         sql.NullTime
	Finished        sql.NullTime
	ExecutorID      sql.NullString
	ExecutorGroup   string
	BusinessKey     string
}

// Execution statuses.
const (
	StatusPending   = "PENDING"
	StatusScheduled = "SCHEDULED"
	StatusExecuting = "EXECUTING"
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)
