// Package definition holds the validated, immutable representation of a
// workflow: its states, transitions and compiled expressions. A Definition is
// built once at registration time and shared read-only by every execution.
package definition

import (
	"time"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/expression"
)

type StateType string

const (
	StatePass    StateType = "pass"
	StateTask    StateType = "task"
	StateChoice  StateType = "choice"
	StateSucceed StateType = "succeed"
	StateFail    StateType = "fail"
)

// Definition is a named mapping from state name to State with exactly one
// start state. Immutable after Parse; owned by the engine's registry.
type Definition struct {
	Name             string
	Description      string
	StartAt          string
	MaxTransitions   int           // 0 means the engine default applies
	ExecutionTimeout time.Duration // 0 means no execution-wide deadline
	States           map[string]*State
	Order            []string // state names in declaration order
	Source           []byte   // the raw document as registered
}

// State is the tagged variant for one unit of work or decision. Only the
// fields for its Type are populated.
type State struct {
	Name string
	Type StateType

	// pass
	Assign []Assignment

	// task
	TaskRef       string
	InputTemplate *expression.Program
	ResultAssign  []Assignment
	Timeout       time.Duration
	Retry         RetryPolicy
	Catch         string

	// pass + task
	Next string

	// choice
	Rules   []ChoiceRule
	Default string

	// succeed
	OutputTemplate *expression.Program

	// fail
	ErrorName string
	Cause     string
}

// Assignment is one ordered name = expression pair. Order matters: later
// entries override earlier ones on key collision within the same block.
type Assignment struct {
	Key  string
	Expr *expression.Program
}

// ChoiceRule is an ordered (condition, target) pair; rules are evaluated in
// declaration order and the first true condition wins.
type ChoiceRule struct {
	When *expression.Program
	Next string
}

// RetryPolicy bounds the retries applied to classified-retryable task
// failures. MaxAttempts counts total invocation attempts; zero or one means
// no retry.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	RetryableKinds    []core.ErrorKind
}

// Retryable reports whether kind is listed in the policy.
func (p RetryPolicy) Retryable(kind core.ErrorKind) bool {
	for _, k := range p.RetryableKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Delay returns the backoff before retry attempt number attempt (0-based):
// backoffBase * backoffMultiplier^attempt. Callers cap it engine-wide.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BackoffBase)
	for i := 0; i < attempt; i++ {
		d *= p.BackoffMultiplier
	}
	return time.Duration(d)
}

// Terminal reports whether the state ends the execution.
func (s *State) Terminal() bool {
	return s.Type == StateSucceed || s.Type == StateFail
}

// Targets returns every state name this state can transition to.
func (s *State) Targets() []string {
	var out []string
	switch s.Type {
	case StatePass:
		out = append(out, s.Next)
	case StateTask:
		out = append(out, s.Next)
		if s.Catch != "" {
			out = append(out, s.Catch)
		}
	case StateChoice:
		for _, r := range s.Rules {
			out = append(out, r.Next)
		}
		out = append(out, s.Default)
	}
	return out
}
