package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StepSpec is one user-named step a caller registers with an
// Orchestrator (§4.G step 2). It is the orchestrator-facing equivalent of
// the registry's lower-level Register/RegisterWithRetry parameters.
type StepSpec struct {
	Name         string
	Deps         []string
	Priority     int
	Timeout      time.Duration
	Retry        *RetryPolicy
	Compensation CompensationFunc
	Body         TaskBody
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithEffectPolicy overrides the default no-op capability scoping.
func WithEffectPolicy(p EffectPolicy) OrchestratorOption {
	return func(o *Orchestrator) { o.effects = p }
}

// WithWorkflowID pins every workflow Run drives to a fixed id instead of
// generating a fresh uuid per call. This exists for event-log-based
// replay (§4.E): reproducing a prior run's retry backoff requires the
// replay to look up RETRY_SCHEDULED events under the same workflow id the
// original recorded run used, so a replay caller builds a second
// Orchestrator pinned to that same id against a Registry sharing the
// original EventStore.
func WithWorkflowID(id string) OrchestratorOption {
	return func(o *Orchestrator) { o.fixedWorkflowID = id }
}

// Orchestrator drives one workflow at a time against a shared Registry
// (§4.G): it generates the workflow id, registers every step, runs the
// registry to completion (optionally under an outer deadline), and always
// tears the workflow's tasks down before returning. Multiple workflows
// may run concurrently against the same Registry; each gets its own
// workflow id and compensation stack (§9 Open Question 3: per-task
// workflow_id is required, not a deprecated global field).
type Orchestrator struct {
	registry        *Registry
	effects         EffectPolicy
	fixedWorkflowID string
}

// NewOrchestrator returns an Orchestrator driving registry.
func NewOrchestrator(registry *Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{registry: registry, effects: NewNoopEffectPolicy()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes one workflow made of steps against frame, returning each
// step's result keyed by step name on success. timeout of zero means no
// outer deadline (§4.G).
func (o *Orchestrator) Run(ctx context.Context, steps []StepSpec, frame Frame, timeout time.Duration) (map[string]Value, error) {
	workflowID := o.fixedWorkflowID
	if workflowID == "" {
		workflowID = uuid.NewString()
	}

	guard, err := o.effects.Enter(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("enter capability scope: %w", err)
	}
	defer guard.Exit(ctx) //nolint:errcheck

	names := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if _, dup := names[s.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.Name)
		}
		names[s.Name] = struct{}{}
	}

	defer o.cleanup(steps, workflowID)

	for _, s := range steps {
		// Each task body re-enters the workflow's capability scope before
		// it executes and restores the previous scope when it returns.
		inner := s.Body
		body := TaskBodyFunc(func(ctx context.Context, snapshot Frame) (Value, error) {
			g, err := o.effects.Enter(ctx, frame)
			if err != nil {
				return nil, fmt.Errorf("enter capability scope: %w", err)
			}
			defer g.Exit(ctx) //nolint:errcheck
			return inner.Run(ctx, snapshot)
		})
		var err error
		if s.Retry != nil {
			err = o.registry.RegisterWithRetry(s.Name, body, s.Deps, *s.Retry, s.Priority, workflowID, s.Compensation, frame)
		} else {
			err = o.registry.Register(s.Name, body, s.Deps, s.Priority, s.Timeout, s.Compensation, workflowID, frame)
		}
		if err != nil {
			if errors.Is(err, ErrDuplicateTask) {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, s.Name)
			}
			return nil, err
		}
	}

	var runErr error
	if timeout > 0 {
		runErr = o.registry.RunWithTimeout(ctx, timeout, workflowID)
	} else {
		runErr = o.registry.RunUntilComplete(ctx)
	}

	if runErr != nil {
		var wfTimeout *WorkflowTimeoutError
		if errors.As(runErr, &wfTimeout) {
			// run_with_timeout's expiry path does not drain compensation
			// itself (§4.D); that is the orchestrator's "outer catch"
			// responsibility (§4.G step 5).
			report := o.registry.DrainCompensation(context.Background(), workflowID)
			if report != nil {
				return nil, &TaskFailure{WorkflowID: workflowID, Cause: wfTimeout, Compensation: report}
			}
			return nil, wfTimeout
		}
		return nil, runErr
	}

	o.registry.ClearCompensation(workflowID)

	results := make(map[string]Value, len(steps))
	for _, s := range steps {
		if t := o.registry.Task(s.Name); t != nil {
			if v, _, ok := t.Outcome(); ok {
				results[s.Name] = v
			}
		}
	}
	return results, nil
}

// cleanup always removes every step's task (and its graph node) once the
// workflow terminates, whether by success or failure (§4.G step 6).
func (o *Orchestrator) cleanup(steps []StepSpec, workflowID string) {
	for _, s := range steps {
		o.registry.Remove(s.Name)
	}
	o.registry.ClearCompensation(workflowID)
}
