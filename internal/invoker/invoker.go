package invoker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/flowmill/flowmill/internal/metrics"
	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
)

// RetryingInvoker invokes registered tasks with a per-attempt timeout and the
// state's retry policy. It is stateless apart from logging and metrics at the
// boundary; it never mutates caller state.
type RetryingInvoker struct {
	registry *Registry
	maxDelay time.Duration // engine-wide cap on backoff between attempts
}

func NewRetryingInvoker(registry *Registry, maxDelay time.Duration) *RetryingInvoker {
	if maxDelay <= 0 {
		maxDelay = 5 * time.Minute
	}
	return &RetryingInvoker{registry: registry, maxDelay: maxDelay}
}

// Invoke runs the task, retrying errors whose kind the policy marks
// retryable, with delay backoffBase * backoffMultiplier^attempt between
// attempts, capped at the engine maximum. On exhausting retries the last
// classified error is returned unchanged.
func (inv *RetryingInvoker) Invoke(ctx context.Context, taskRef string, input map[string]any, timeout time.Duration, policy definition.RetryPolicy) (map[string]any, error) {
	fn, err := inv.registry.Lookup(taskRef)
	if err != nil {
		return nil, err
	}

	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	attempt := 0
	var backoff retry.Backoff = retry.BackoffFunc(func() (time.Duration, bool) {
		d := policy.Delay(attempt)
		attempt++
		return d, false
	})
	backoff = retry.WithCappedDuration(inv.maxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(attempts-1), backoff)

	var result map[string]any
	doErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		metrics.TaskAttempts.WithLabelValues(taskRef).Inc()
		if attempt > 0 {
			metrics.TaskRetries.WithLabelValues(taskRef).Inc()
			slog.InfoContext(ctx, "Retrying task", "task", taskRef, "attempt", attempt+1)
		}
		out, cerr := inv.attempt(ctx, taskRef, fn, input, timeout)
		if cerr != nil {
			if policy.Retryable(cerr.Kind) {
				return retry.RetryableError(cerr)
			}
			return cerr
		}
		result = out
		return nil
	})
	if doErr != nil {
		var cerr *core.ClassifiedError
		if errors.As(doErr, &cerr) {
			return nil, cerr
		}
		// context cancelled or deadline hit while waiting between attempts
		return nil, &core.ClassifiedError{Kind: core.KindCancelled, TaskRef: taskRef, Detail: doErr.Error(), Err: doErr}
	}
	return result, nil
}

// attempt runs one invocation under its own deadline. An attempt that
// exceeds the timeout is classified Timeout even if the task body ignores
// its context.
func (inv *RetryingInvoker) attempt(ctx context.Context, taskRef string, fn TaskFunc, input map[string]any, timeout time.Duration) (map[string]any, *core.ClassifiedError) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := fn(attemptCtx, input)
		done <- outcome{out: out, err: err}
	}()

	select {
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// parent cancelled, not a per-attempt timeout
			return nil, &core.ClassifiedError{Kind: core.KindCancelled, TaskRef: taskRef, Detail: ctx.Err().Error(), Err: ctx.Err()}
		}
		return nil, &core.ClassifiedError{Kind: core.KindTimeout, TaskRef: taskRef, Detail: fmt.Sprintf("attempt exceeded timeout %s", timeout)}
	case o := <-done:
		if o.err != nil {
			return nil, classify(taskRef, o.err)
		}
		if o.out == nil {
			o.out = map[string]any{}
		}
		return o.out, nil
	}
}

func classify(taskRef string, err error) *core.ClassifiedError {
	var cerr *core.ClassifiedError
	if errors.As(err, &cerr) {
		if cerr.TaskRef == "" {
			cerr.TaskRef = taskRef
		}
		return cerr
	}
	return &core.ClassifiedError{Kind: core.KindInvocationFailure, TaskRef: taskRef, Detail: err.Error(), Err: err}
}
