package store_test

import (
	"context"
	"testing"

	"github.com/aster-run/aster-core/store"
)

// assertEventStoreContract exercises the EventStore contract every backend
// must satisfy: per-workflow strictly increasing sequence numbers, ascending
// Events ordering, and fromSeq filtering. Shared across memory/sqlite/bolt/
// mysql so the four backends are held to the identical behavior.
func assertEventStoreContract(t *testing.T, es store.EventStore) {
	t.Helper()
	ctx := context.Background()

	seq1, err := es.Append(ctx, "wf-a", store.RetryScheduled, map[string]any{"taskId": "t1"}, 1, 10, "")
	if err != nil {
		t.Fatalf("Append #1: %v", err)
	}
	seq2, err := es.Append(ctx, "wf-a", store.WorkflowStarted, map[string]any{"note": "go"}, 0, 0, "")
	if err != nil {
		t.Fatalf("Append #2: %v", err)
	}
	if seq2 <= seq1 {
		t.Fatalf("sequence not strictly increasing: seq1=%d seq2=%d", seq1, seq2)
	}

	seqOther, err := es.Append(ctx, "wf-b", store.WorkflowFailed, nil, 0, 0, "boom")
	if err != nil {
		t.Fatalf("Append to other workflow: %v", err)
	}
	_ = seqOther

	events, err := es.Events(ctx, "wf-a", 0)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Events(wf-a) returned %d events, want 2", len(events))
	}
	if events[0].Sequence != seq1 || events[1].Sequence != seq2 {
		t.Fatalf("Events not in ascending sequence order: %+v", events)
	}
	if events[0].Type != store.RetryScheduled || events[0].AttemptNumber != 1 || events[0].BackoffDelayMs != 10 {
		t.Fatalf("event #1 fields not preserved: %+v", events[0])
	}
	if events[0].Payload["taskId"] != "t1" {
		t.Fatalf("event #1 payload not preserved: %+v", events[0].Payload)
	}

	filtered, err := es.Events(ctx, "wf-a", seq2)
	if err != nil {
		t.Fatalf("Events with fromSeq: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Sequence != seq2 {
		t.Fatalf("Events(wf-a, fromSeq=%d) = %+v, want only seq2", seq2, filtered)
	}

	otherEvents, err := es.Events(ctx, "wf-b", 0)
	if err != nil {
		t.Fatalf("Events(wf-b): %v", err)
	}
	if len(otherEvents) != 1 || otherEvents[0].FailureReason != "boom" {
		t.Fatalf("wf-b events not isolated from wf-a: %+v", otherEvents)
	}

	empty, err := es.Events(ctx, "wf-does-not-exist", 0)
	if err != nil {
		t.Fatalf("Events on unknown workflow must not error: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("Events on unknown workflow = %v, want empty", empty)
	}
}
