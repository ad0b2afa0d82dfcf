// Package observability provides pluggable event emission for the
// workflow scheduler: task state transitions, retries and compensation.
// The scheduler never logs directly — it emits Events through
// whichever Emitter its Registry was configured with.
package observability

import "context"

// Event is an observability record describing one scheduling occurrence.
type Event struct {
	// WorkflowID identifies the owning workflow execution.
	WorkflowID string

	// TaskID identifies the task this event concerns. Empty for
	// workflow-level events (started, completed, failed).
	TaskID string

	// Msg is a short, stable event name ("task_started", "task_retrying",
	// "compensation_failed", "task_cancelled", …).
	Msg string

	// Meta carries event-specific structured data (attempt number,
	// backoff delay, error text, …).
	Meta map[string]any
}

// Emitter receives scheduling events. Implementations must not block the
// scheduler for long and must not panic; a misbehaving observability
// backend should never take down a workflow.
type Emitter interface {
	// Emit sends a single event.
	Emit(event Event)

	// EmitBatch sends multiple events, preserving order.
	EmitBatch(ctx context.Context, events []Event) error

	// Flush blocks until every buffered event has been delivered, or ctx
	// is cancelled.
	Flush(ctx context.Context) error
}
