package store

import (
	"context"
	"sync"
	"time"
)

// MemStore is an in-process EventStore backed by a map of slices. It is the
// default for tests and for the `thread_pool_size = 1` determinism
// baseline (§8), mirroring the teacher's MemStore[S] in graph/store/memory.go.
type MemStore struct {
	mu     sync.Mutex
	byWF   map[string][]Event
	nextSq map[string]int64
}

// NewMemStore creates an empty in-memory event store.
func NewMemStore() *MemStore {
	return &MemStore{
		byWF:   make(map[string][]Event),
		nextSq: make(map[string]int64),
	}
}

// Append implements EventStore.
func (m *MemStore) Append(_ context.Context, workflowID string, eventType EventType, payload map[string]any, attemptNumber int, backoffDelayMs int64, failureReason string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := m.nextSq[workflowID] + 1
	m.nextSq[workflowID] = seq

	m.byWF[workflowID] = append(m.byWF[workflowID], Event{
		Sequence:       seq,
		WorkflowID:     workflowID,
		Type:           eventType,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
		AttemptNumber:  attemptNumber,
		BackoffDelayMs: backoffDelayMs,
		FailureReason:  failureReason,
	})
	return seq, nil
}

// Events implements EventStore.
func (m *MemStore) Events(_ context.Context, workflowID string, fromSeq int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.byWF[workflowID]
	out := make([]Event, 0, len(all))
	for _, e := range all {
		if e.Sequence >= fromSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Reset drops every recorded event, used between test scenarios.
func (m *MemStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byWF = make(map[string][]Event)
	m.nextSq = make(map[string]int64)
}
