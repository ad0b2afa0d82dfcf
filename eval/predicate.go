package eval

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// PredicateEngine compiles and evaluates CEL guard expressions supplied as
// source text rather than as a Core IR expression tree. It is a standalone
// helper: Interpreter evaluates If conditions and Match guards as ir.Expr
// trees and does not call it.
type PredicateEngine struct {
	env *cel.Env
}

// NewPredicateEngine builds a PredicateEngine with one declared variable
// per name in varNames, typed dynamically (cel.DynType), matching the
// loosely-typed Core IR value model.
func NewPredicateEngine(varNames []string) (*PredicateEngine, error) {
	opts := make([]cel.EnvOption, 0, len(varNames))
	for _, name := range varNames {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("eval: build CEL environment: %w", err)
	}
	return &PredicateEngine{env: env}, nil
}

// compiledPredicate is a parsed, type-checked guard ready for repeated
// evaluation against different bindings.
type compiledPredicate struct {
	prg cel.Program
}

// Compile parses and type-checks a guard expression once so it can be
// evaluated many times (e.g. once per retry attempt's readiness check).
func (p *PredicateEngine) Compile(expr string) (*compiledPredicate, error) {
	ast, issues := p.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("eval: compile guard %q: %w", expr, issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("eval: plan guard %q: %w", expr, err)
	}
	return &compiledPredicate{prg: prg}, nil
}

// Eval runs the compiled guard against vars and requires a bool result,
// matching the Core IR rule that an If/Match guard must evaluate to Bool.
func (c *compiledPredicate) Eval(vars map[string]any) (bool, error) {
	out, _, err := c.prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("eval: guard evaluation: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval: guard did not evaluate to bool, got %T", out.Value())
	}
	return b, nil
}

// EvalGuard is a convenience one-shot helper: compile expr against the
// keys present in vars and evaluate it immediately. Prefer Compile+Eval
// when the same guard runs more than once (e.g. inside a retry loop).
func EvalGuard(expr string, vars map[string]any) (bool, error) {
	names := make([]string, 0, len(vars))
	for k := range vars {
		names = append(names, k)
	}
	eng, err := NewPredicateEngine(names)
	if err != nil {
		return false, err
	}
	pred, err := eng.Compile(expr)
	if err != nil {
		return false, err
	}
	return pred.Eval(vars)
}
