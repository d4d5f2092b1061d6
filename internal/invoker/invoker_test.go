package invoker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
)

func newTestInvoker(t *testing.T, taskRef string, fn TaskFunc) *RetryingInvoker {
	t.Helper()
	reg := NewRegistry()
	reg.Register(taskRef, fn)
	return NewRetryingInvoker(reg, time.Minute)
}

func TestInvokeSuccess(t *testing.T) {
	inv := newTestInvoker(t, "echo", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return map[string]any{"echoed": input["value"]}, nil
	})

	out, err := inv.Invoke(context.Background(), "echo", map[string]any{"value": "hi"}, time.Second, definition.RetryPolicy{})
	require.NoError(t, err)
	assert.Equal(t, "hi", out["echoed"])
}

func TestInvokeUnknownTask(t *testing.T) {
	inv := NewRetryingInvoker(NewRegistry(), time.Minute)

	_, err := inv.Invoke(context.Background(), "ghost", nil, time.Second, definition.RetryPolicy{})
	require.Error(t, err)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindInvocationFailure, cerr.Kind)
}

func TestInvokeRetriesExactlyMaxAttempts(t *testing.T) {
	calls := 0
	inv := newTestInvoker(t, "flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		return nil, &core.ClassifiedError{Kind: core.KindDependencyUnavailable, Detail: "broker down"}
	})

	policy := definition.RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 2,
		RetryableKinds:    []core.ErrorKind{core.KindDependencyUnavailable},
	}
	_, err := inv.Invoke(context.Background(), "flaky", nil, time.Second, policy)
	require.Error(t, err)
	// maxAttempts counts total attempts, not retries
	assert.Equal(t, 3, calls)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindDependencyUnavailable, cerr.Kind)
	assert.Equal(t, "broker down", cerr.Detail)
}

func TestInvokeRecoversAfterRetry(t *testing.T) {
	calls := 0
	inv := newTestInvoker(t, "flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		if calls < 3 {
			return nil, &core.ClassifiedError{Kind: core.KindTimeout, Detail: "slow"}
		}
		return map[string]any{"ok": true}, nil
	})

	policy := definition.RetryPolicy{
		MaxAttempts:       5,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1,
		RetryableKinds:    []core.ErrorKind{core.KindTimeout},
	}
	out, err := inv.Invoke(context.Background(), "flaky", nil, time.Second, policy)
	require.NoError(t, err)
	assert.Equal(t, true, out["ok"])
	assert.Equal(t, 3, calls)
}

func TestInvokeCapsBackoffAtEngineMaximum(t *testing.T) {
	calls := 0
	reg := NewRegistry()
	reg.Register("flaky", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		return nil, &core.ClassifiedError{Kind: core.KindTimeout, Detail: "slow"}
	})
	inv := NewRetryingInvoker(reg, time.Millisecond)

	// without the engine-wide cap these delays would add up to hours
	policy := definition.RetryPolicy{
		MaxAttempts:       3,
		BackoffBase:       time.Hour,
		BackoffMultiplier: 2,
		RetryableKinds:    []core.ErrorKind{core.KindTimeout},
	}
	start := time.Now()
	_, err := inv.Invoke(context.Background(), "flaky", nil, time.Second, policy)
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Less(t, time.Since(start), time.Second)
}

func TestInvokeNonRetryableKindFailsImmediately(t *testing.T) {
	calls := 0
	inv := newTestInvoker(t, "strict", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		return nil, &core.ClassifiedError{Kind: core.KindInvalidResult, Detail: "bad shape"}
	})

	policy := definition.RetryPolicy{
		MaxAttempts:       5,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1,
		RetryableKinds:    []core.ErrorKind{core.KindTimeout},
	}
	_, err := inv.Invoke(context.Background(), "strict", nil, time.Second, policy)
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindInvalidResult, cerr.Kind)
}

func TestInvokeZeroMaxAttemptsMeansSingleAttempt(t *testing.T) {
	calls := 0
	inv := newTestInvoker(t, "once", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		calls++
		return nil, &core.ClassifiedError{Kind: core.KindTimeout, Detail: "slow"}
	})

	policy := definition.RetryPolicy{RetryableKinds: []core.ErrorKind{core.KindTimeout}, BackoffBase: time.Millisecond, BackoffMultiplier: 1}
	_, err := inv.Invoke(context.Background(), "once", nil, time.Second, policy)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestInvokeClassifiesTimeout(t *testing.T) {
	inv := newTestInvoker(t, "sleepy", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	_, err := inv.Invoke(context.Background(), "sleepy", nil, 20*time.Millisecond, definition.RetryPolicy{})
	require.Error(t, err)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindTimeout, cerr.Kind)
	assert.Equal(t, "sleepy", cerr.TaskRef)
}

func TestInvokeClassifiesParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	inv := newTestInvoker(t, "sleepy", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := inv.Invoke(ctx, "sleepy", nil, time.Minute, definition.RetryPolicy{})
	require.Error(t, err)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindCancelled, cerr.Kind)
}

func TestInvokeWrapsUnclassifiedErrors(t *testing.T) {
	inv := newTestInvoker(t, "plain", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, errors.New("boom")
	})

	_, err := inv.Invoke(context.Background(), "plain", nil, time.Second, definition.RetryPolicy{})
	require.Error(t, err)

	var cerr *core.ClassifiedError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, core.KindInvocationFailure, cerr.Kind)
	assert.Equal(t, "boom", cerr.Detail)
}

func TestRegistryNames(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", func(ctx context.Context, input map[string]any) (map[string]any, error) { return nil, nil })
	reg.Register("b", func(ctx context.Context, input map[string]any) (map[string]any, error) { return nil, nil })
	assert.ElementsMatch(t, []string{"a", "b"}, reg.Names())
}
