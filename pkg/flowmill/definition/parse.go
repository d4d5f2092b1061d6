package definition

import (
	"fmt"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"

	"github.com/flowmill/flowmill/pkg/flowmill/core"
	"github.com/flowmill/flowmill/pkg/flowmill/expression"
)

// ValidationError reports one structural or syntactic problem found at
// registration time. Anything that passes Parse never raises a structural
// error during execution.
type ValidationError struct {
	Reason    string
	StateName string
}

func (e *ValidationError) Error() string {
	if e.StateName != "" {
		return fmt.Sprintf("state %q: %s", e.StateName, e.Reason)
	}
	return e.Reason
}

// DefaultTaskTimeout applies when a task state declares no timeout.
const DefaultTaskTimeout = 30 * time.Second

type rawDoc struct {
	Name             string        `yaml:"name"`
	Description      string        `yaml:"description"`
	StartAt          string        `yaml:"startAt"`
	MaxTransitions   int           `yaml:"maxTransitions"`
	ExecutionTimeout string        `yaml:"executionTimeout"`
	States           yaml.MapSlice `yaml:"states"`
}

// Parse decodes a raw YAML (or JSON) definition document, compiles every
// embedded expression and checks the structural invariants: a start state
// exists, every next/catch/rule/default target resolves, no state name is
// declared twice. All findings are accumulated; a non-nil error means the
// definition was rejected as a whole.
func Parse(doc []byte) (*Definition, error) {
	var raw rawDoc
	if err := yaml.UnmarshalWithOptions(doc, &raw, yaml.UseOrderedMap()); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("cannot decode document: %v", err)}
	}

	var errs *multierror.Error
	if raw.Name == "" {
		errs = multierror.Append(errs, &ValidationError{Reason: "definition has no name"})
	}
	if raw.StartAt == "" {
		errs = multierror.Append(errs, &ValidationError{Reason: "definition has no startAt"})
	}
	if raw.MaxTransitions < 0 {
		errs = multierror.Append(errs, &ValidationError{Reason: "maxTransitions must not be negative"})
	}

	def := &Definition{
		Name:           raw.Name,
		Description:    raw.Description,
		StartAt:        raw.StartAt,
		MaxTransitions: raw.MaxTransitions,
		States:         make(map[string]*State),
		Source:         doc,
	}

	if raw.ExecutionTimeout != "" {
		d, err := time.ParseDuration(raw.ExecutionTimeout)
		if err != nil || d <= 0 {
			errs = multierror.Append(errs, &ValidationError{Reason: fmt.Sprintf("invalid executionTimeout %q", raw.ExecutionTimeout)})
		} else {
			def.ExecutionTimeout = d
		}
	}

	if len(raw.States) == 0 {
		errs = multierror.Append(errs, &ValidationError{Reason: "definition has no states"})
	}

	for _, item := range raw.States {
		name := fmt.Sprintf("%v", item.Key)
		if _, dup := def.States[name]; dup {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "state declared twice"})
			continue
		}
		body, ok := item.Value.(yaml.MapSlice)
		if !ok {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "state body is not a mapping"})
			continue
		}
		st, err := parseState(name, body)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		def.States[name] = st
		def.Order = append(def.Order, name)
	}

	if raw.StartAt != "" {
		if _, ok := def.States[raw.StartAt]; !ok {
			errs = multierror.Append(errs, &ValidationError{Reason: fmt.Sprintf("startAt %q is not a state", raw.StartAt)})
		}
	}
	for _, name := range def.Order {
		st := def.States[name]
		for _, target := range st.Targets() {
			if target == "" {
				errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "transition target is empty"})
				continue
			}
			if _, ok := def.States[target]; !ok {
				errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: fmt.Sprintf("transition target %q is not a state", target)})
			}
		}
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return def, nil
}

func parseState(name string, body yaml.MapSlice) (*State, error) {
	var errs *multierror.Error
	st := &State{Name: name}

	typ, _ := lookupString(body, "type")
	st.Type = StateType(typ)

	switch st.Type {
	case StatePass:
		st.Assign = parseAssign(name, body, "assign", &errs)
		if len(st.Assign) == 0 {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "pass state has no assign block"})
		}
		st.Next, _ = lookupString(body, "next")
	case StateTask:
		st.TaskRef, _ = lookupString(body, "taskRef")
		if st.TaskRef == "" {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "task state has no taskRef"})
		}
		if src, ok := lookupString(body, "input"); ok {
			st.InputTemplate = compileExpr(name, src, &errs)
		} else {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "task state has no input template"})
		}
		st.ResultAssign = parseAssign(name, body, "assign", &errs)
		st.Timeout = parseDuration(name, body, "timeout", DefaultTaskTimeout, &errs)
		st.Retry = parseRetry(name, body, &errs)
		st.Next, _ = lookupString(body, "next")
		st.Catch, _ = lookupString(body, "catch")
	case StateChoice:
		st.Rules = parseRules(name, body, &errs)
		if len(st.Rules) == 0 {
			errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: "choice state has no rules"})
		}
		st.Default, _ = lookupString(body, "default")
	case StateSucceed:
		if src, ok := lookupString(body, "output"); ok {
			st.OutputTemplate = compileExpr(name, src, &errs)
		}
	case StateFail:
		st.ErrorName, _ = lookupString(body, "error")
		st.Cause, _ = lookupString(body, "cause")
	default:
		errs = multierror.Append(errs, &ValidationError{StateName: name, Reason: fmt.Sprintf("unknown state type %q", typ)})
	}

	return st, errs.ErrorOrNil()
}

func parseAssign(state string, body yaml.MapSlice, key string, errs **multierror.Error) []Assignment {
	v, ok := lookup(body, key)
	if !ok {
		return nil
	}
	block, ok := v.(yaml.MapSlice)
	if !ok {
		*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: key + " block is not a mapping"})
		return nil
	}
	out := make([]Assignment, 0, len(block))
	for _, item := range block {
		k := fmt.Sprintf("%v", item.Key)
		src, ok := item.Value.(string)
		if !ok {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: fmt.Sprintf("assign %q is not an expression string", k)})
			continue
		}
		if p := compileExpr(state, src, errs); p != nil {
			out = append(out, Assignment{Key: k, Expr: p})
		}
	}
	return out
}

func parseRules(state string, body yaml.MapSlice, errs **multierror.Error) []ChoiceRule {
	v, ok := lookup(body, "rules")
	if !ok {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: "rules is not a sequence"})
		return nil
	}
	out := make([]ChoiceRule, 0, len(list))
	for i, e := range list {
		rule, ok := e.(yaml.MapSlice)
		if !ok {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: fmt.Sprintf("rule %d is not a mapping", i)})
			continue
		}
		when, _ := lookupString(rule, "when")
		next, _ := lookupString(rule, "next")
		if when == "" {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: fmt.Sprintf("rule %d has no when condition", i)})
			continue
		}
		p := compileExpr(state, when, errs)
		if p == nil {
			continue
		}
		out = append(out, ChoiceRule{When: p, Next: next})
	}
	return out
}

func parseRetry(state string, body yaml.MapSlice, errs **multierror.Error) RetryPolicy {
	// no retry block means no retry at all
	policy := RetryPolicy{BackoffMultiplier: 1}
	v, ok := lookup(body, "retry")
	if !ok {
		return policy
	}
	block, ok := v.(yaml.MapSlice)
	if !ok {
		*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: "retry block is not a mapping"})
		return policy
	}
	if n, ok := lookupInt(block, "maxAttempts"); ok {
		if n < 0 {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: "retry maxAttempts must not be negative"})
		}
		policy.MaxAttempts = n
	}
	policy.BackoffBase = parseDuration(state, block, "backoffBase", time.Second, errs)
	if f, ok := lookupFloat(block, "backoffMultiplier"); ok {
		if f < 1 {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: "retry backoffMultiplier must be at least 1"})
		}
		policy.BackoffMultiplier = f
	}
	if v, ok := lookup(block, "retryOn"); ok {
		kinds, ok := v.([]any)
		if !ok {
			*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: "retry retryOn is not a sequence"})
		}
		for _, e := range kinds {
			kind := core.ErrorKind(fmt.Sprintf("%v", e))
			if !core.ValidTaskKind(kind) {
				*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: fmt.Sprintf("retry retryOn names unknown error kind %q", kind)})
				continue
			}
			policy.RetryableKinds = append(policy.RetryableKinds, kind)
		}
	}
	return policy
}

func compileExpr(state, src string, errs **multierror.Error) *expression.Program {
	p, err := expression.Compile(src)
	if err != nil {
		*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: err.Error()})
		return nil
	}
	return p
}

func parseDuration(state string, body yaml.MapSlice, key string, fallback time.Duration, errs **multierror.Error) time.Duration {
	s, ok := lookupString(body, key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		*errs = multierror.Append(*errs, &ValidationError{StateName: state, Reason: fmt.Sprintf("invalid %s %q", key, s)})
		return fallback
	}
	return d
}

func lookup(body yaml.MapSlice, key string) (any, bool) {
	for _, item := range body {
		if fmt.Sprintf("%v", item.Key) == key {
			return item.Value, true
		}
	}
	return nil, false
}

func lookupString(body yaml.MapSlice, key string) (string, bool) {
	v, ok := lookup(body, key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func lookupInt(body yaml.MapSlice, key string) (int, bool) {
	v, ok := lookup(body, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func lookupFloat(body yaml.MapSlice, key string) (float64, bool) {
	v, ok := lookup(body, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
