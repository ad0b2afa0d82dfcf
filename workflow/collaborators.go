package workflow

import "context"

// EffectPolicy is the capability-scoping façade (§4.G step 1, §4.H).
// WorkflowOrchestrator snapshots the caller's effect-capability set once
// per workflow and asks EffectPolicy to re-enter that scope before every
// task body executes; the guard's Exit restores whatever scope was active
// before Enter, mirroring a stack discipline even when tasks run
// concurrently on different goroutines.
type EffectPolicy interface {
	Enter(ctx context.Context, caps Frame) (CapabilityGuard, error)
}

// CapabilityGuard is returned by EffectPolicy.Enter; Exit restores the
// previous capability scope. Implementations must make Exit idempotent.
type CapabilityGuard interface {
	Exit(ctx context.Context) error
}

// noopEffectPolicy is the default EffectPolicy: every task body already
// receives its Frame directly via TaskBody.Run, so capability scoping is
// a no-op unless a caller supplies a real EffectPolicy (e.g. the
// evaluator collaborator enforcing a PII/IO capability set).
type noopEffectPolicy struct{}

// NewNoopEffectPolicy returns an EffectPolicy that performs no scoping.
func NewNoopEffectPolicy() EffectPolicy { return noopEffectPolicy{} }

func (noopEffectPolicy) Enter(context.Context, Frame) (CapabilityGuard, error) {
	return noopGuard{}, nil
}

type noopGuard struct{}

func (noopGuard) Exit(context.Context) error { return nil }

// Evaluator is the collaborator façade the scheduler core never inspects
// beyond its error (§1, §4.H: "core never inspects the result's internal
// structure"). WorkflowOrchestrator does not call Evaluator directly —
// task bodies constructed by a caller close over an Evaluator instance
// and satisfy TaskBody themselves. This interface exists so that
// alternative schedulers in this module (the demo entrypoints) can share
// one narrow contract instead of each inventing their own.
type Evaluator interface {
	Run(ctx context.Context, taskBody TaskBody, snapshot Frame) (Value, error)
}

// EvaluatorFunc adapts a function to Evaluator.
type EvaluatorFunc func(ctx context.Context, taskBody TaskBody, snapshot Frame) (Value, error)

func (f EvaluatorFunc) Run(ctx context.Context, taskBody TaskBody, snapshot Frame) (Value, error) {
	return f(ctx, taskBody, snapshot)
}
