// Package invoker abstracts calling an external compute task with an input
// payload, a per-attempt timeout and a bounded retry policy. Any concrete
// backing is valid: an in-process function, an HTTP call, an RPC. Repeated
// attempts may re-execute the task; tasks whose effects are not safe to
// repeat must themselves be idempotent.
package invoker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/definition"
)

// TaskInvoker is what the engine depends on to run task states.
type TaskInvoker interface {
	Invoke(ctx context.Context, taskRef string, input map[string]any, timeout time.Duration, policy definition.RetryPolicy) (map[string]any, error)
}

// TaskFunc is one registered task collaborator. It classifies its own
// failures by returning a *core.ClassifiedError; anything else is treated as
// InvocationFailure.
type TaskFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

// Registry maps task references to their implementations. Registration
// happens at boot; lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]TaskFunc
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]TaskFunc)}
}

func (r *Registry) Register(taskRef string, fn TaskFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[taskRef] = fn
}

func (r *Registry) Lookup(taskRef string) (TaskFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[taskRef]
	if !ok {
		return nil, &core.ClassifiedError{
			Kind:    core.KindInvocationFailure,
			TaskRef: taskRef,
			Detail:  fmt.Sprintf("no task registered for %q", taskRef),
		}
	}
	return fn, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	return names
}
