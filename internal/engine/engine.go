package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowmill/flowmill/internal/invoker"
	"github.com/flowmill/flowmill/internal/metrics"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
	"github.com/flowmill/flowmill/pkg/flowmill/domain"
)

// Reserved variable keys. The triggering input lives under "input"; a caught
// task error is recorded under "error"; a task result is visible as "result"
// only while its assign block evaluates.
const (
	VarInput  = "input"
	VarError  = "error"
	VarResult = "result"
)

// Options tune the interpreter. Zero values fall back to engine defaults.
type Options struct {
	// MaxTransitions guards against unbounded cycles from a malformed
	// definition; a definition may lower it but never exceed it.
	MaxTransitions int
	// StrictChoice makes a Choice condition error fail the execution
	// instead of evaluating to false.
	StrictChoice bool
	// CancelPollInterval is how often an in-flight task wait checks for a
	// cancellation request.
	CancelPollInterval time.Duration
}

const defaultMaxTransitions = 250

// Engine interprets workflow definitions. One Run owns one execution's
// context exclusively: states are strictly sequential for that execution and
// nothing else mutates its variables while it is live.
type Engine struct {
	execRepo    ExecutionRepo
	historyRepo HistoryRepo
	invoker     invoker.TaskInvoker
	clock       core.Clock
	opts        Options
}

func NewEngine(execRepo ExecutionRepo, historyRepo HistoryRepo, inv invoker.TaskInvoker, clock core.Clock, opts Options) *Engine {
	if opts.MaxTransitions <= 0 {
		opts.MaxTransitions = defaultMaxTransitions
	}
	if opts.CancelPollInterval <= 0 {
		opts.CancelPollInterval = time.Second
	}
	return &Engine{execRepo: execRepo, historyRepo: historyRepo, invoker: inv, clock: clock, opts: opts}
}

// Run steps the execution from its current state to a terminal state. The
// database holds where we are, so a crashed execution resumes from its last
// persisted transition.
func (e *Engine) Run(ctx context.Context, exec *domain.Execution, def *definition.Definition, workerID string) {
	slog.InfoContext(ctx, "Running execution", "execution_id", exec.ID, "definition", def.Name, "worker_id", workerID)
	metrics.ExecutionsStarted.Inc()

	if err := e.execRepo.UpdateStatus(exec.ID, domain.StatusExecuting); err != nil {
		slog.ErrorContext(ctx, "Error updating execution status", "error", err, "worker_id", workerID)
		return
	}
	if err := e.execRepo.UpdateStartingTime(exec.ID); err != nil {
		slog.ErrorContext(ctx, "Error updating execution starting time", "error", err, "worker_id", workerID)
		return
	}

	runCtx := ctx
	if def.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, def.ExecutionTimeout)
		defer cancel()
	}

	vars := decodeVariables(exec.Variables)
	current := exec.CurrentState
	seq := exec.ExecutionCount
	maxTransitions := e.opts.MaxTransitions
	if def.MaxTransitions > 0 && def.MaxTransitions < maxTransitions {
		maxTransitions = def.MaxTransitions
	}
	transitions := 0

	for {
		// cancellation is observable at every transition boundary
		if cancelled, err := e.execRepo.IsCancelRequested(exec.ID); err == nil && cancelled {
			e.fail(ctx, exec, core.KindCancelled, "cancellation requested")
			return
		}
		if runCtx.Err() != nil {
			e.fail(ctx, exec, core.KindCancelled, "execution deadline exceeded")
			return
		}
		if transitions >= maxTransitions {
			e.fail(ctx, exec, core.KindCycleLimitExceeded, fmt.Sprintf("exceeded %d transitions", maxTransitions))
			return
		}

		st, ok := def.States[current]
		if !ok {
			// validation makes this unreachable for registered definitions
			e.fail(ctx, exec, core.KindInvocationFailure, fmt.Sprintf("no such state %q", current))
			return
		}

		rec := &domain.StateRecord{
			ExecutionID: exec.ID,
			Seq:         seq,
			StateName:   current,
			EnteredAt:   e.clock.Now(),
		}

		var next string
		switch st.Type {
		case definition.StatePass:
			assigned, err := e.evalAssignments(st.Assign, vars, nil)
			if err != nil {
				e.failState(ctx, exec, rec, core.KindEvalFailure, err.Error())
				return
			}
			mergeVariables(vars, assigned)
			rec.Output = encodeJSONNull(assigned)
			next = st.Next

		case definition.StateTask:
			payload, err := e.renderInput(st, vars)
			if err != nil {
				e.failState(ctx, exec, rec, core.KindEvalFailure, err.Error())
				return
			}
			rec.Input = encodeJSONNull(payload)

			taskCtx, stopWatch := e.watchCancel(runCtx, exec.ID)
			out, ierr := e.invoker.Invoke(taskCtx, st.TaskRef, payload, st.Timeout, st.Retry)
			stopWatch()

			if ierr != nil {
				cerr := asClassified(ierr, st.TaskRef)
				if cerr.Kind == core.KindCancelled {
					// history keeps only completed transitions
					e.fail(ctx, exec, core.KindCancelled, cerr.Detail)
					return
				}
				if st.Catch == "" {
					e.failState(ctx, exec, rec, cerr.Kind, cerr.Detail)
					return
				}
				vars[VarError] = map[string]any{
					"kind":    string(cerr.Kind),
					"detail":  cerr.Detail,
					"taskRef": cerr.TaskRef,
				}
				rec.ErrorKind = sql.NullString{String: string(cerr.Kind), Valid: true}
				rec.ErrorDetail = sql.NullString{String: cerr.Detail, Valid: true}
				next = st.Catch
			} else {
				assigned, err := e.evalAssignments(st.ResultAssign, vars, out)
				if err != nil {
					e.failState(ctx, exec, rec, core.KindEvalFailure, err.Error())
					return
				}
				mergeVariables(vars, assigned)
				rec.Output = encodeJSONNull(out)
				next = st.Next
			}

		case definition.StateChoice:
			next = st.Default
			for _, rule := range st.Rules {
				matched, err := rule.When.EvalCondition(vars)
				if err != nil && e.opts.StrictChoice {
					e.failState(ctx, exec, rec, core.KindEvalFailure, err.Error())
					return
				}
				// a condition error or non-boolean is simply false
				if matched {
					next = rule.Next
					break
				}
			}
			rec.Output = encodeJSONNull(map[string]any{"chosen": next})

		case definition.StateSucceed:
			output := any(vars)
			if st.OutputTemplate != nil {
				v, err := st.OutputTemplate.EvalValue(vars)
				if err != nil {
					e.failState(ctx, exec, rec, core.KindEvalFailure, err.Error())
					return
				}
				output = v
			}
			rec.Output = encodeJSONNull(output)
			e.finishRecord(rec, vars, st.Type)
			if _, err := e.historyRepo.Append(rec); err != nil {
				return
			}
			if err := e.execRepo.MarkSucceeded(exec.ID, encodeJSON(output)); err != nil {
				slog.ErrorContext(ctx, "Error marking execution succeeded", "error", err, "execution_id", exec.ID)
				return
			}
			metrics.ExecutionsSucceeded.Inc()
			slog.InfoContext(ctx, "Execution succeeded", "execution_id", exec.ID, "state", current)
			return

		case definition.StateFail:
			detail := st.Cause
			if st.ErrorName != "" {
				detail = st.ErrorName + ": " + st.Cause
			}
			e.failState(ctx, exec, rec, core.KindFailState, detail)
			return
		}

		e.finishRecord(rec, vars, st.Type)
		if _, err := e.historyRepo.Append(rec); err != nil {
			return
		}
		slog.InfoContext(ctx, "Transitioning state", "execution_id", exec.ID, "from", current, "to", next, "worker_id", workerID)
		if err := e.execRepo.UpdateCurrentState(exec.ID, next); err != nil {
			slog.ErrorContext(ctx, "Error updating execution state", "error", err, "execution_id", exec.ID)
			return
		}
		if err := e.execRepo.SaveVariables(exec.ID, encodeJSON(vars)); err != nil {
			slog.ErrorContext(ctx, "Error saving execution variables", "error", err, "execution_id", exec.ID)
			return
		}

		current = next
		seq++
		transitions++
	}
}

// evalAssignments evaluates one assign block against the accumulating scope.
// When result is non-nil it is visible to the block as the reserved "result"
// key. Later entries override earlier ones on key collision.
func (e *Engine) evalAssignments(assigns []definition.Assignment, vars map[string]any, result map[string]any) (map[string]any, error) {
	if len(assigns) == 0 {
		return map[string]any{}, nil
	}
	scope := make(map[string]any, len(vars)+1)
	for k, v := range vars {
		scope[k] = v
	}
	if result != nil {
		scope[VarResult] = result
	}
	out := make(map[string]any, len(assigns))
	for _, a := range assigns {
		v, err := a.Expr.EvalValue(scope)
		if err != nil {
			return nil, err
		}
		out[a.Key] = v
		scope[a.Key] = v
	}
	return out, nil
}

// renderInput materialises a task state's input template into a payload map.
func (e *Engine) renderInput(st *definition.State, vars map[string]any) (map[string]any, error) {
	v, err := st.InputTemplate.EvalValue(vars)
	if err != nil {
		return nil, err
	}
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input template %q did not produce a mapping", st.InputTemplate.Source())
	}
}

// watchCancel derives a context that is cancelled when the execution's
// cancel flag is raised, so an in-flight task wait stays cooperative.
func (e *Engine) watchCancel(ctx context.Context, executionID string) (context.Context, func()) {
	taskCtx, cancel := context.WithCancel(ctx)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-taskCtx.Done():
				return
			case <-e.clock.After(e.opts.CancelPollInterval):
				if cancelled, err := e.execRepo.IsCancelRequested(executionID); err == nil && cancelled {
					cancel()
					return
				}
			}
		}
	}()
	return taskCtx, func() {
		close(stop)
		cancel()
	}
}

// failState appends the failing state's record and finalises the execution.
func (e *Engine) failState(ctx context.Context, exec *domain.Execution, rec *domain.StateRecord, kind core.ErrorKind, detail string) {
	rec.ExitedAt = e.clock.Now()
	rec.ErrorKind = sql.NullString{String: string(kind), Valid: true}
	rec.ErrorDetail = sql.NullString{String: detail, Valid: true}
	_, _ = e.historyRepo.Append(rec)
	e.fail(ctx, exec, kind, detail)
}

func (e *Engine) fail(ctx context.Context, exec *domain.Execution, kind core.ErrorKind, detail string) {
	if err := e.execRepo.MarkFailed(exec.ID, kind, detail); err != nil {
		slog.ErrorContext(ctx, "Error marking execution failed", "error", err, "execution_id", exec.ID)
		return
	}
	metrics.ExecutionsFailed.WithLabelValues(string(kind)).Inc()
	slog.WarnContext(ctx, "Execution failed", "execution_id", exec.ID, "kind", string(kind), "detail", detail)
}

func (e *Engine) finishRecord(rec *domain.StateRecord, vars map[string]any, stateType definition.StateType) {
	rec.ExitedAt = e.clock.Now()
	rec.Variables = encodeJSONNull(vars)
	metrics.StateDuration.WithLabelValues(string(stateType)).Observe(rec.ExitedAt.Sub(rec.EnteredAt).Seconds())
}

func asClassified(err error, taskRef string) *core.ClassifiedError {
	var cerr *core.ClassifiedError
	if errors.As(err, &cerr) {
		return cerr
	}
	return &core.ClassifiedError{Kind: core.KindInvocationFailure, TaskRef: taskRef, Detail: err.Error(), Err: err}
}

func decodeVariables(raw sql.NullString) map[string]any {
	vars := map[string]any{}
	if raw.Valid && raw.String != "" && raw.String != "null" {
		if err := json.Unmarshal([]byte(raw.String), &vars); err != nil {
			slog.Error("Error parsing execution variables", "error", err)
		}
	}
	return vars
}

func mergeVariables(vars map[string]any, assigned map[string]any) {
	for k, v := range assigned {
		vars[k] = v
	}
}

func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

func encodeJSONNull(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: encodeJSON(v), Valid: true}
}
