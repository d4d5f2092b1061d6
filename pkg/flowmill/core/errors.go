package core

import "fmt"

// ErrorKind classifies a task invocation failure or an engine-level
// termination cause. The task kinds are the only ones a retry policy
// may name; the engine kinds are produced by the execution loop itself.
type ErrorKind string

const (
	// Task invocation kinds.
	KindTimeout               ErrorKind = "Timeout"
	KindInvocationFailure     ErrorKind = "InvocationFailure"
	KindInvalidResult         ErrorKind = "InvalidResult"
	KindDependencyUnavailable ErrorKind = "DependencyUnavailable"

	// Engine kinds.
	KindCycleLimitExceeded ErrorKind = "CycleLimitExceeded"
	KindCancelled          ErrorKind = "Cancelled"
	KindEvalFailure        ErrorKind = "EvalFailure"
	KindFailState          ErrorKind = "FailState"
)

// TaskKinds lists the kinds a retry policy is allowed to reference.
var TaskKinds = []ErrorKind{KindTimeout, KindInvocationFailure, KindInvalidResult, KindDependencyUnavailable}

func ValidTaskKind(k ErrorKind) bool {
	for _, tk := range TaskKinds {
		if tk == k {
			return true
		}
	}
	return false
}

// ClassifiedError is the error surface between a task collaborator and the
// engine. The invoker hands it back unchanged after retries are exhausted so
// the engine can route it to a catch state or fail the execution with the
// original kind and detail.
type ClassifiedError struct {
	Kind    ErrorKind
	TaskRef string
	Detail  string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.TaskRef != "" {
		return fmt.Sprintf("task %s: %s: %s", e.TaskRef, e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Classify wraps err with a kind. A nil err still produces a ClassifiedError
// so tasks can signal a kind with only a detail string.
func Classify(kind ErrorKind, err error) *ClassifiedError {
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &ClassifiedError{Kind: kind, Detail: detail, Err: err}
}
