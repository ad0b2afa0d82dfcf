// Package workflow implements a durable, deterministic, dependency-aware
// concurrent scheduler for workflow subprograms. Expression evaluation,
// pattern matching and the builtin registry are collaborator concerns
// delivered through the interfaces in collaborators.go; this package only
// schedules and supervises the tasks those collaborators execute.
package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the no-argument failure cases. Structured failures
// that need to carry a task id, cause or diagnostic use TaskError or
// DeadlockError instead.
var (
	// ErrDuplicateTask is returned by Registry.Register when a task id is
	// already present in the registry.
	ErrDuplicateTask = errors.New("workflow: duplicate task id")

	// ErrDuplicateStep is the orchestrator-facing name for ErrDuplicateTask,
	// raised when a workflow declares the same step name twice.
	ErrDuplicateStep = errors.New("workflow: duplicate step name")

	// ErrUnknownDependency is returned when a step names a dependency that
	// was never registered.
	ErrUnknownDependency = errors.New("workflow: unknown dependency")

	// ErrCycle is returned when adding a task would create a dependency
	// cycle in the graph.
	ErrCycle = errors.New("workflow: dependency cycle")

	// ErrInvalidRetryPolicy is returned by RetryPolicy.Validate.
	ErrInvalidRetryPolicy = errors.New("workflow: invalid retry policy")

	// ErrReplayDivergence is returned when a replay run consumes a
	// recorded value whose call-site tag does not match the tag requested
	// by the current execution, or when the record is exhausted.
	ErrReplayDivergence = errors.New("workflow: replay divergence")

	// ErrShutdown is returned by Registry methods called after Shutdown
	// has completed.
	ErrShutdown = errors.New("workflow: registry is shut down")

	// ErrInvalidConfig is returned by Options that receive an
	// out-of-range value (e.g. a thread pool size below 1).
	ErrInvalidConfig = errors.New("workflow: invalid configuration")
)

// TaskError wraps a task-scoped failure with the task id and an error code,
// mirroring the teacher's NodeError shape: a short machine-readable Code,
// the TaskID it happened in, and the underlying Cause.
type TaskError struct {
	TaskID string
	Code   string
	Cause  error
}

func (e *TaskError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }

// NewTimeoutError builds the TaskError for a per-task deadline expiry.
func NewTimeoutError(taskID string) *TaskError {
	return &TaskError{TaskID: taskID, Code: "TIMEOUT", Cause: fmt.Errorf("task %s exceeded its timeout", taskID)}
}

// NewMaxRetriesExceededError builds the TaskError for retry exhaustion.
func NewMaxRetriesExceededError(taskID string, max int, cause error) *TaskError {
	return &TaskError{TaskID: taskID, Code: "MAX_RETRIES_EXCEEDED", Cause: fmt.Errorf("exceeded max attempts (%d): %w", max, cause)}
}

// WorkflowTimeoutError is returned by RunWithTimeout on outer-deadline
// expiry.
type WorkflowTimeoutError struct {
	WorkflowID string
	TimeoutMs  int64
}

func (e *WorkflowTimeoutError) Error() string {
	return fmt.Sprintf("workflow %s exceeded timeout of %dms", e.WorkflowID, e.TimeoutMs)
}

// DeadlockError carries the diagnostic required by the spec: every
// still-running task, every still-pending task with its unmet dependency
// set, and any cycle found by the fallback DFS.
type DeadlockError struct {
	Running []string
	Pending map[string][]string
	Cycle   []string
}

func (e *DeadlockError) Error() string {
	var b strings.Builder
	b.WriteString("workflow: deadlock detected")
	if len(e.Running) > 0 {
		fmt.Fprintf(&b, "; running=%v", e.Running)
	}
	if len(e.Pending) > 0 {
		b.WriteString("; pending={")
		first := true
		for id, deps := range e.Pending {
			if !first {
				b.WriteString(", ")
			}
			first = false
			fmt.Fprintf(&b, "%s:unmet=%v", id, deps)
		}
		b.WriteString("}")
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, "; cycle=%v", e.Cycle)
	}
	return b.String()
}

// CompensationReport accumulates every error encountered while draining a
// workflow's compensation stack, rather than the single swallowed-and-logged
// failure the base spec calls for (§4.F). It supplements §4.F without
// weakening it: compensation still runs to completion and a callback error
// never stops the remaining callbacks.
type CompensationReport struct {
	Failed []CompensationFailure
}

// CompensationFailure records one failed compensation callback.
type CompensationFailure struct {
	TaskID string
	Err    error
}

func (r *CompensationReport) Error() string {
	if r == nil || len(r.Failed) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d compensation callback(s) failed", len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "; %s: %v", f.TaskID, f.Err)
	}
	return b.String()
}

// TaskFailure is the error surfaced by RunUntilComplete / RunWithTimeout
// when a workflow terminates because a task failed (after compensation has
// run). It carries the original cause and, if any compensation callback
// itself failed, the CompensationReport (E.3 supplement).
type TaskFailure struct {
	TaskID       string
	WorkflowID   string
	Cause        error
	Compensation *CompensationReport
}

func (e *TaskFailure) Error() string {
	msg := fmt.Sprintf("workflow %s: task %s failed: %v", e.WorkflowID, e.TaskID, e.Cause)
	if e.Compensation != nil && len(e.Compensation.Failed) > 0 {
		msg += "; " + e.Compensation.Error()
	}
	return msg
}

func (e *TaskFailure) Unwrap() error { return e.Cause }
