package eval

import (
	"context"
	"fmt"

	"github.com/aster-run/aster-core/ir"
	"github.com/aster-run/aster-core/workflow"
)

// BuiltinFunc is a pure host function callable by name from Core IR (§1:
// "Builtin registry: pure host functions, callable by name").
type BuiltinFunc func(args []any) (any, error)

// Variant is the runtime representation of an ir.EnumDecl instance,
// consumed by Match through ir.VariantPattern. The interpreter has no
// constructors for enum variants; Variant values come from the caller, for
// example through a task's Frame bindings.
type Variant struct {
	Name   string
	Fields []any
}

// closure is a runtime function value: an ir.Lambda (or named ir.FuncDecl
// body) paired with the environment it closed over.
type closure struct {
	params []ir.Param
	body   []ir.Stmt
	env    *Env
}

// returnSignal carries a Return statement's value. EvalStmts does not use
// it: statement lists are flat, so a Return ends the list by returning its
// value directly.
type returnSignal struct{ value any }

// Interpreter evaluates Core IR expressions and statements. It is the
// concrete type TaskBody implementations close over to satisfy
// workflow.TaskBody and, via Run, workflow.Evaluator.
type Interpreter struct {
	Builtins map[string]BuiltinFunc
	Funcs    map[string]ir.FuncDecl
}

// NewInterpreter returns an Interpreter with the given module's top-level
// Func declarations registered by name, plus any builtins the caller
// supplies (§1: the builtin registry is an external collaborator; this
// interpreter only calls into whatever map it is given).
func NewInterpreter(mod *ir.Module, builtins map[string]BuiltinFunc) *Interpreter {
	in := &Interpreter{Builtins: builtins, Funcs: make(map[string]ir.FuncDecl)}
	if in.Builtins == nil {
		in.Builtins = make(map[string]BuiltinFunc)
	}
	if mod != nil {
		for _, d := range mod.Decls {
			if fd, ok := d.(ir.FuncDecl); ok {
				in.Funcs[fd.Name] = fd
			}
		}
	}
	return in
}

// Run implements workflow.Evaluator by delegating straight to taskBody —
// the interpreter's real evaluation surface is EvalExpr/EvalStmts below,
// invoked from an ExprTaskBody that a caller constructs with NewExprTask.
// This exists so the scheduler core only ever depends on the narrow
// workflow.Evaluator contract, never on package eval directly (§4.H: "core
// never inspects the result's internal structure").
func (in *Interpreter) Run(ctx context.Context, taskBody workflow.TaskBody, snapshot workflow.Frame) (workflow.Value, error) {
	return taskBody.Run(ctx, snapshot)
}

// ExprTaskBody adapts a Core IR expression to workflow.TaskBody, evaluated
// against an environment derived from the task's Frame snapshot.
type ExprTaskBody struct {
	Interp *Interpreter
	Body   ir.Expr
}

// NewExprTask builds a TaskBody that evaluates body under the interpreter.
func NewExprTask(interp *Interpreter, body ir.Expr) ExprTaskBody {
	return ExprTaskBody{Interp: interp, Body: body}
}

// Run implements workflow.TaskBody.
func (b ExprTaskBody) Run(ctx context.Context, snapshot workflow.Frame) (workflow.Value, error) {
	env, err := FrameBindings(snapshot)
	if err != nil {
		return nil, err
	}
	return b.Interp.EvalExpr(ctx, b.Body, env)
}

// EvalStmts executes a statement list in sequence, returning the value
// carried by the first Return encountered, or nil if the body falls off
// the end without one.
func (in *Interpreter) EvalStmts(ctx context.Context, stmts []ir.Stmt, env *Env) (any, error) {
	for _, s := range stmts {
		switch st := s.(type) {
		case ir.Return:
			v, err := in.EvalExpr(ctx, st.Value, env)
			if err != nil {
				return nil, err
			}
			return v, nil
		case ir.Let:
			v, err := in.EvalExpr(ctx, st.Value, env)
			if err != nil {
				return nil, err
			}
			env.Let(st.Name, v)
		case ir.Set:
			v, err := in.EvalExpr(ctx, st.Value, env)
			if err != nil {
				return nil, err
			}
			if err := env.Set(st.Name, v); err != nil {
				return nil, err
			}
		case ir.ExprStmt:
			if _, err := in.EvalExpr(ctx, st.Value, env); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("eval: unsupported statement %T", s)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// EvalExpr evaluates one Core IR expression against env.
func (in *Interpreter) EvalExpr(ctx context.Context, e ir.Expr, env *Env) (any, error) {
	if e == nil {
		return nil, nil
	}
	switch ex := e.(type) {
	case ir.IntLit:
		return ex.Value, nil
	case ir.BoolLit:
		return ex.Value, nil
	case ir.StringLit:
		return ex.Value, nil
	case ir.Var:
		v, ok := env.Get(ex.Name)
		if !ok {
			if bi, ok := in.Builtins[ex.Name]; ok {
				return bi, nil
			}
			if fd, ok := in.Funcs[ex.Name]; ok {
				return closure{params: fd.Params, body: fd.Body, env: env}, nil
			}
			return nil, fmt.Errorf("eval: unbound name %q", ex.Name)
		}
		return v, nil
	case ir.Lambda:
		return closure{params: ex.Params, body: ex.Body, env: env}, nil
	case ir.Call:
		return in.evalCall(ctx, ex, env)
	case ir.If:
		cond, err := in.EvalExpr(ctx, ex.Cond, env)
		if err != nil {
			return nil, err
		}
		b, ok := cond.(bool)
		if !ok {
			return nil, fmt.Errorf("eval: If condition is not bool: %T", cond)
		}
		if b {
			return in.EvalExpr(ctx, ex.Then, env)
		}
		return in.EvalExpr(ctx, ex.Else, env)
	case ir.Match:
		return in.evalMatch(ctx, ex, env)
	case ir.Start, ir.Wait, ir.WorkflowExpr:
		// Scheduling expressions are wired by the orchestrator, not
		// evaluated in isolation: a caller that wants Start/Wait/workflow
		// semantics builds StepSpecs from them before invoking
		// Orchestrator.Run, rather than asking the interpreter to
		// schedule anything itself (§4.H: the evaluator never touches
		// the registry).
		return nil, fmt.Errorf("eval: %T is a scheduling expression, not directly evaluable", e)
	default:
		return nil, fmt.Errorf("eval: unsupported expression %T", e)
	}
}

func (in *Interpreter) evalCall(ctx context.Context, c ir.Call, env *Env) (any, error) {
	fn, err := in.EvalExpr(ctx, c.Func, env)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(c.Args))
	for _, a := range c.Args {
		v, err := in.EvalExpr(ctx, a, env)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	switch f := fn.(type) {
	case BuiltinFunc:
		return f(args)
	case closure:
		callEnv := f.env.Child()
		for i, p := range f.params {
			if i < len(args) {
				callEnv.Let(p.Name, args[i])
			}
		}
		return in.EvalStmts(ctx, f.body, callEnv)
	default:
		return nil, fmt.Errorf("eval: value is not callable: %T", fn)
	}
}

func (in *Interpreter) evalMatch(ctx context.Context, m ir.Match, env *Env) (any, error) {
	subj, err := in.EvalExpr(ctx, m.Subject, env)
	if err != nil {
		return nil, err
	}
	for _, arm := range m.Arms {
		armEnv := env.Child()
		if !matchPattern(arm.Pattern, subj, armEnv) {
			continue
		}
		if arm.Guard != nil {
			g, err := in.EvalExpr(ctx, arm.Guard, armEnv)
			if err != nil {
				return nil, err
			}
			ok, _ := g.(bool)
			if !ok {
				continue
			}
		}
		return in.EvalExpr(ctx, arm.Body, armEnv)
	}
	return nil, fmt.Errorf("eval: match fell through with no arm satisfied")
}

// matchPattern reports whether pattern matches subject, binding any names
// the pattern introduces into env.
func matchPattern(p ir.Pattern, subject any, env *Env) bool {
	switch pat := p.(type) {
	case ir.WildcardPattern:
		return true
	case ir.BindPattern:
		env.Let(pat.Name, subject)
		return true
	case ir.LiteralPattern:
		lit, err := (&Interpreter{}).EvalExpr(context.Background(), pat.Value, env)
		if err != nil {
			return false
		}
		return lit == subject
	case ir.VariantPattern:
		v, ok := subject.(Variant)
		if !ok || v.Name != pat.Variant {
			return false
		}
		if len(pat.Fields) > len(v.Fields) {
			return false
		}
		for i, fp := range pat.Fields {
			if !matchPattern(fp, v.Fields[i], env) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
