package repository

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
)

// HistoryRepository persists the append-only state transition records for
// each execution. Exactly one writer exists per execution: the engine loop
// that owns it.
type HistoryRepository struct {
	db    *sql.DB
	clock core.Clock
}

func NewHistoryRepository(db *sql.DB, clock core.Clock) *HistoryRepository {
	return &HistoryRepository{db: db, clock: clock}
}

// Append inserts a new state record and returns its ID.
func (r *HistoryRepository) Append(rec *domain.StateRecord) (int64, error) {
	vals := []interface{}{
		rec.ExecutionID, rec.Seq, rec.StateName,
		formatDateInDatabase(rec.EnteredAt), formatDateInDatabase(rec.ExitedAt),
		rec.Input, rec.Output, rec.Variables, rec.ErrorKind, rec.ErrorDetail,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	base := `
		INSERT INTO execution_history (
			execution_id, seq, state_name, entered_at, exited_at,
			input, output, variables, error_kind, error_detail
		) VALUES (` + strings.Join(pps, ", ") + `)`

	var err error
	if supportsReturning() {
		query := base + " RETURNING id"
		err = r.db.QueryRow(query, vals...).Scan(&rec.ID)
	} else {
		res, e := r.db.Exec(base, vals...)
		if e != nil {
			err = e
		} else {
			id, e2 := res.LastInsertId()
			if e2 != nil {
				err = e2
			} else {
				rec.ID = id
			}
		}
	}
	if err != nil {
		slog.Error("Failed to append state record", "error", err, "execution_id", rec.ExecutionID, "state", rec.StateName)
	}
	return rec.ID, err
}

// FindByExecutionID returns the full history for one execution in order.
func (r *HistoryRepository) FindByExecutionID(executionID string) (*[]domain.StateRecord, error) {
	query := `
		SELECT id, execution_id, seq, state_name, entered_at, exited_at,
		       input, output, variables, error_kind, error_detail
		FROM execution_history
		WHERE execution_id = ` + placeholder(1) + `
		ORDER BY seq ASC
	`
	rows, err := r.db.Query(query, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.StateRecord, 0)
	for rows.Next() {
		var rec domain.StateRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.ExecutionID,
			&rec.Seq,
			&rec.StateName,
			&rec.EnteredAt,
			&rec.ExitedAt,
			&rec.Input,
			&rec.Output,
			&rec.Variables,
			&rec.ErrorKind,
			&rec.ErrorDetail,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return &records, rows.Err()
}
