package workflow

import (
	"context"
	"sync"

	"github.com/aster-run/aster-core/observability"
	"github.com/aster-run/aster-core/store"
)

// compensationEntry is one LIFO entry: the task that pushed it and the
// rollback callback it registered (§3, §4.F).
type compensationEntry struct {
	taskID   string
	callback CompensationFunc
}

// compensationStacks owns one LIFO per workflow id. It is safe for
// concurrent use: pushes race with each other across workers of the same
// workflow, and a drain can run concurrently with late pushes from
// straggling workers that are still quiescing.
type compensationStacks struct {
	mu     sync.Mutex
	byWF   map[string][]compensationEntry
	events store.EventStore
	emit   observability.Emitter
}

func newCompensationStacks(events store.EventStore, emit observability.Emitter) *compensationStacks {
	return &compensationStacks{
		byWF:   make(map[string][]compensationEntry),
		events: events,
		emit:   emit,
	}
}

// push appends to workflowID's stack (§4.F: "on every successful
// completion that carries a callback").
func (c *compensationStacks) push(workflowID, taskID string, cb CompensationFunc) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	c.byWF[workflowID] = append(c.byWF[workflowID], compensationEntry{taskID: taskID, callback: cb})
	c.mu.Unlock()
}

// drain pops and invokes every callback for workflowID in LIFO order,
// strictly the reverse of the order successfully-completed tasks pushed
// (§4.F, §8 quantified invariant). A failing callback is recorded in the
// returned CompensationReport (E.3 supplement) and does not stop the
// remaining callbacks (§4.F, §7 policy: "logged and swallowed").
func (c *compensationStacks) drain(ctx context.Context, workflowID string) *CompensationReport {
	c.mu.Lock()
	entries := c.byWF[workflowID]
	delete(c.byWF, workflowID)
	c.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	report := &CompensationReport{}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		err := e.callback(ctx)
		if err != nil {
			report.Failed = append(report.Failed, CompensationFailure{TaskID: e.taskID, Err: err})
			c.emit.Emit(observability.Event{WorkflowID: workflowID, TaskID: e.taskID, Msg: "compensation_failed", Meta: map[string]any{"error": err.Error()}})
		} else {
			c.emit.Emit(observability.Event{WorkflowID: workflowID, TaskID: e.taskID, Msg: "compensation_ran"})
		}
		if c.events != nil {
			reason := ""
			if err != nil {
				reason = err.Error()
			}
			_, _ = c.events.Append(ctx, workflowID, store.TaskCompensated, map[string]any{"taskId": e.taskID}, 0, 0, reason)
		}
	}

	if len(report.Failed) == 0 {
		return nil
	}
	return report
}

// clear discards workflowID's stack without invoking any callback, used
// on workflow success (§4.F: "cleared on workflow success").
func (c *compensationStacks) clear(workflowID string) {
	c.mu.Lock()
	delete(c.byWF, workflowID)
	c.mu.Unlock()
}

// depth reports how many entries are currently stacked for workflowID,
// used by tests to assert push/clear behaviour without draining.
func (c *compensationStacks) depth(workflowID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byWF[workflowID])
}
