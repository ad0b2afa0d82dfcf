package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aster-run/aster-core/store"
)

// recordingStore wraps a MemStore and counts Append calls, used to assert
// that a caller-supplied EventStore (rather than the default) is the one
// actually receiving RETRY_SCHEDULED events.
type recordingStore struct {
	mu     sync.Mutex
	inner  *store.MemStore
	writes int
}

func newRecordingStore() *recordingStore {
	return &recordingStore{inner: store.NewMemStore()}
}

func (s *recordingStore) Append(ctx context.Context, workflowID string, eventType store.EventType, payload map[string]any, attemptNumber int, backoffDelayMs int64, failureReason string) (int64, error) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
	return s.inner.Append(ctx, workflowID, eventType, payload, attemptNumber, backoffDelayMs, failureReason)
}

func (s *recordingStore) Events(ctx context.Context, workflowID string, fromSeq int64) ([]store.Event, error) {
	return s.inner.Events(ctx, workflowID, fromSeq)
}

func (s *recordingStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}

func contextWithTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
