package domain

import (
	"database/sql"
	"time"
)

// StateRecord is one entry in an execution's append-only history: the input,
// output and variable snapshot for a single visited state. Immutable once
// appended; read by operators, never by the execution loop.
type StateRecord struct {
	ID          int64
	ExecutionID string
	Seq         int
	StateName   string
	EnteredAt   time.Time
	ExitedAt    time.Time
	Input       sql.NullString
	Output      sql.NullString
	Variables   sql.NullString
	ErrorKind   sql.NullString
	ErrorDetail sql.NullString
}
