package repository

import (
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	domain "github.com/flowmill/flowmill/pkg/flowmill/domain"
	"github.com/flowmill/flowmill/pkg/flowmill/models"
)

type ExecutionRepository struct {
	db    *sql.DB
	clock core.Clock
}

const ALL_COLUMNS = ` id, status, definition_name, current_state, variables, output,
		       error_kind, error_detail, execution_count, cancel_requested,
		       created, modified, next_activation, started, finished,
		       executor_id, executor_group, business_key `

func NewExecutionRepository(db *sql.DB, clock core.Clock) *ExecutionRepository {
	return &ExecutionRepository{db: db, clock: clock}
}

func scanExecution(scan func(...any) error) (*domain.Execution, error) {
	var e domain.Execution
	err := scan(
		&e.ID,
		&e.Status,
		&e.DefinitionName,
		&e.CurrentState,
		&e.Variables,
		&e.Output,
		&e.ErrorKind,
		&e.ErrorDetail,
		&e.ExecutionCount,
		&e.CancelRequested,
		&e.Created,
		&e.Modified,
		&e.NextActivation,
		&e.Started,
		&e.Finished,
		&e.ExecutorID,
		&e.ExecutorGroup,
		&e.BusinessKey,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *ExecutionRepository) FindByID(id string) (*domain.Execution, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM executions WHERE id = ` + placeholder(1) + `
	`
	return scanExecution(func(dest ...any) error {
		return r.db.QueryRow(query, id).Scan(dest...)
	})
}

func (r *ExecutionRepository) Save(e *domain.Execution) error {
	vals := []interface{}{
		e.ID, e.Status, e.DefinitionName, e.CurrentState, e.Variables, e.Output,
		e.ErrorKind, e.ErrorDetail, e.ExecutionCount, e.CancelRequested,
		formatDateInDatabase(e.Created), formatDateInDatabase(e.Modified),
		formatDateInDatabaseNull(e.NextActivation), formatDateInDatabaseNull(e.Started), formatDateInDatabaseNull(e.Finished),
		e.ExecutorID, e.ExecutorGroup, e.BusinessKey,
	}
	pps := make([]string, 0, len(vals))
	for i := range vals {
		pps = append(pps, placeholder(i+1))
	}
	query := `INSERT INTO executions (` + ALL_COLUMNS + `) VALUES (` + strings.Join(pps, ", ") + `)`
	_, err := r.db.Exec(query, vals...)
	return err
}

// FindPending returns executions that are due to run, oldest first.
func (r *ExecutionRepository) FindPending(size int, executorGroup string) (*[]domain.Execution, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM executions
		WHERE  ` + dateBeforeNow("next_activation", r.clock) + `
		  AND status in ('PENDING', 'EXECUTING')
		  AND executor_id IS NULL
		  AND executor_group = ` + placeholder(1) + `
		ORDER BY next_activation ASC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, executorGroup, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	return &executions, rows.Err()
}

// MarkScheduled claims an execution for this executor. The modified timestamp
// acts as an optimistic lock against other executors.
func (r *ExecutionRepository) MarkScheduled(id string, executorID int64, modified time.Time) bool {
	query := `
		UPDATE executions
		SET status = 'SCHEDULED', modified = ` + nowFunc(r.clock) + `, executor_id = ` + placeholder(1) + `
		WHERE id = ` + placeholder(2) + ` AND modified = ` + placeholder(3) + ` AND status IN ('PENDING', 'EXECUTING') AND executor_id IS NULL
	`
	result, err := r.db.Exec(query, executorID, id, formatDateInDatabase(modified))
	if err != nil {
		slog.Error("Failed to mark execution as scheduled", "error", err, "id", id, "executorId", executorID)
		return false
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected == 1
}

// LockByModified is the repair-service variant of MarkScheduled: it claims an
// execution regardless of a stale executor_id.
func (r *ExecutionRepository) LockByModified(id string, modified time.Time) bool {
	query := `
		UPDATE executions
		SET modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND modified = ` + placeholder(2) + `
	`
	result, err := r.db.Exec(query, id, formatDateInDatabase(modified))
	if err != nil {
		return false
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return affected == 1
}

func (r *ExecutionRepository) UpdateStatus(id string, status string) error {
	query := `
		UPDATE executions
		SET status = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, status, id)
	return err
}

func (r *ExecutionRepository) UpdateCurrentState(id string, state string) error {
	query := `
		UPDATE executions
		SET current_state = ` + placeholder(1) + `, execution_count = execution_count + 1, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, state, id)
	return err
}

func (r *ExecutionRepository) UpdateStartingTime(id string) error {
	query := `
		UPDATE executions
		SET started = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + ` AND started IS NULL
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *ExecutionRepository) SaveVariables(id string, vars string) error {
	query := `
		UPDATE executions
		SET variables = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, vars, id)
	return err
}

// MarkSucceeded finalises an execution with its rendered output.
func (r *ExecutionRepository) MarkSucceeded(id string, output string) error {
	query := `
		UPDATE executions
		SET status = 'SUCCEEDED', output = ` + placeholder(1) + `, finished = ` + nowFunc(r.clock) + `,
		    modified = ` + nowFunc(r.clock) + `, executor_id = NULL
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, output, id)
	return err
}

// MarkFailed finalises an execution carrying the error kind and detail.
func (r *ExecutionRepository) MarkFailed(id string, kind core.ErrorKind, detail string) error {
	query := `
		UPDATE executions
		SET status = 'FAILED', error_kind = ` + placeholder(1) + `, error_detail = ` + placeholder(2) + `,
		    finished = ` + nowFunc(r.clock) + `, modified = ` + nowFunc(r.clock) + `, executor_id = NULL
		WHERE id = ` + placeholder(3) + `
	`
	_, err := r.db.Exec(query, string(kind), detail, id)
	return err
}

func (r *ExecutionRepository) RequestCancel(id string) error {
	query := `
		UPDATE executions
		SET cancel_requested = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + ` AND status IN ('PENDING', 'SCHEDULED', 'EXECUTING')
	`
	_, err := r.db.Exec(query, true, id)
	return err
}

func (r *ExecutionRepository) IsCancelRequested(id string) (bool, error) {
	query := `SELECT cancel_requested FROM executions WHERE id = ` + placeholder(1)
	var requested bool
	if err := r.db.QueryRow(query, id).Scan(&requested); err != nil {
		return false, err
	}
	return requested, nil
}

func (r *ExecutionRepository) ClearExecutor(id string) error {
	query := `
		UPDATE executions
		SET executor_id = NULL, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(1) + `
	`
	_, err := r.db.Exec(query, id)
	return err
}

func (r *ExecutionRepository) UpdateNextActivationSpecific(id string, next time.Time) error {
	query := `
		UPDATE executions
		SET next_activation = ` + placeholder(1) + `, modified = ` + nowFunc(r.clock) + `
		WHERE id = ` + placeholder(2) + `
	`
	_, err := r.db.Exec(query, formatDateInDatabase(next), id)
	return err
}

// FindStuck finds executions claimed by an executor that has gone silent for
// more than minutesRepair minutes, so the repair service can re-queue them.
func (r *ExecutionRepository) FindStuck(minutesRepair string, executorGroup string, limit int) (*[]domain.Execution, error) {
	query := `
		SELECT ` + ALL_COLUMNS + `
		FROM executions
		WHERE status IN ('SCHEDULED', 'EXECUTING')
		  AND executor_id IS NOT NULL
		  AND executor_group = ` + placeholder(1) + `
		  AND ` + dateBeforeNow("modified", staleClock(r.clock, minutesRepair)) + `
		ORDER BY modified ASC
		LIMIT ` + placeholder(2) + `
	`
	rows, err := r.db.Query(query, executorGroup, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	return &executions, rows.Err()
}

func (r *ExecutionRepository) Search(req models.SearchExecutionsRequest) (*[]domain.Execution, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, cond+placeholder(len(args)))
	}
	if req.ID != "" {
		add("id = ", req.ID)
	}
	if req.Definition != "" {
		add("definition_name = ", req.Definition)
	}
	if req.ExecutorGroup != "" {
		add("executor_group = ", req.ExecutorGroup)
	}
	if req.BusinessKey != "" {
		add("business_key = ", req.BusinessKey)
	}
	if req.State != "" {
		add("current_state = ", req.State)
	}
	if req.Status != "" {
		add("status = ", req.Status)
	}
	query := `SELECT ` + ALL_COLUMNS + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := req.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += ` ORDER BY created DESC LIMIT ` + placeholder(len(args))
	args = append(args, req.Offset)
	query += ` OFFSET ` + placeholder(len(args))

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows.Scan)
		if err != nil {
			return nil, err
		}
		executions = append(executions, *e)
	}
	return &executions, rows.Err()
}

// staleClock shifts the repository clock back by the given number of minutes
// so dateBeforeNow compares against "now minus the repair threshold".
type shiftedClock struct {
	core.Clock
	shift time.Duration
}

func (c shiftedClock) Now() time.Time { return c.Clock.Now().Add(-c.shift) }

func staleClock(clock core.Clock, minutes string) core.Clock {
	d, err := time.ParseDuration(minutes + "m")
	if err != nil {
		d = 5 * time.Minute
	}
	return shiftedClock{Clock: clock, shift: d}
}
