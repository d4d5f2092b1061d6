// Package expression compiles and evaluates the small expressions used by
// workflow definitions: Choice conditions, Pass/Task variable assignments and
// task input templates.
//
// It uses the expr-lang/expr library. Expressions support:
//
//   - Variable access by path: input.objectRef, label
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "red" in ["red", "green"]
//   - Conditionals: label == "unknown" ? "generate" : "skip"
//   - Map literals for input templates: {storageRef: input.objectRef}
//
// Every expression is compiled exactly once, at definition registration time.
// Evaluation is pure: the same program run against the same scope always
// yields the same value.
package expression

import (
	"fmt"
	"regexp"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// EvalError reasons.
const (
	ReasonUndefinedPath = "UndefinedPath"
	ReasonNotBoolean    = "NotBoolean"
	ReasonRuntime       = "Runtime"
)

// EvalError reports a failed evaluation. Reason is one of the Reason*
// constants; Expr is the original source text.
type EvalError struct {
	Expr   string
	Reason string
	Detail string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("eval %q: %s: %s", e.Expr, e.Reason, e.Detail)
}

// pathOnlyRe matches expressions that are a bare variable path, e.g. "a" or
// "input.objectRef". A bare path evaluating to nothing is an undefined root,
// which is an error when assigned, unlike a nil buried inside a larger
// expression.
var pathOnlyRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Program is a compiled expression, safe for concurrent evaluation.
type Program struct {
	src      string
	pathOnly bool
	prog     *vm.Program
}

// Compile parses src once. Undefined variables are allowed at compile time;
// they surface as nil (or an UndefinedPath error for bare paths) at run time.
func Compile(src string) (*Program, error) {
	prog, err := expr.Compile(src, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Program{src: src, pathOnly: pathOnlyRe.MatchString(src), prog: prog}, nil
}

// MustCompile is for tests and built-in definitions.
func MustCompile(src string) *Program {
	p, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Source() string { return p.src }

// Eval runs the program against scope. A lookup that walks off an undefined
// variable yields nil for bare paths rather than an error; any other runtime
// failure is reported as an EvalError.
func (p *Program) Eval(scope map[string]any) (any, error) {
	if scope == nil {
		scope = map[string]any{}
	}
	out, err := expr.Run(p.prog, scope)
	if err != nil {
		if p.pathOnly {
			// e.g. "a.b" where "a" is undefined: member access on nil.
			return nil, nil
		}
		return nil, &EvalError{Expr: p.src, Reason: ReasonRuntime, Detail: err.Error()}
	}
	return out, nil
}

// EvalValue is Eval for assignment roots and input templates: an undefined
// bare path is an UndefinedPath error instead of a silent nil.
func (p *Program) EvalValue(scope map[string]any) (any, error) {
	out, err := p.Eval(scope)
	if err != nil {
		return nil, err
	}
	if out == nil && p.pathOnly {
		return nil, &EvalError{Expr: p.src, Reason: ReasonUndefinedPath, Detail: "path is undefined in scope"}
	}
	return out, nil
}

// EvalCondition evaluates a Choice rule guard. The returned error is non-nil
// when the expression failed or produced a non-boolean; callers decide
// whether that is fatal (strict mode) or simply false (the default).
func (p *Program) EvalCondition(scope map[string]any) (bool, error) {
	out, err := p.Eval(scope)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, &EvalError{Expr: p.src, Reason: ReasonNotBoolean, Detail: fmt.Sprintf("condition evaluated to %T, not bool", out)}
	}
	return b, nil
}
