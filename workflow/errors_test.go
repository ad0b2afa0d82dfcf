package workflow_test

import (
	"errors"
	"testing"

	"github.com/aster-run/aster-core/workflow"
)

func TestTaskErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	te := &workflow.TaskError{TaskID: "t1", Code: "TIMEOUT", Cause: cause}
	if !errors.Is(te, cause) {
		t.Fatalf("errors.Is(te, cause) = false, want true via Unwrap")
	}
}

func TestNewTimeoutError(t *testing.T) {
	err := workflow.NewTimeoutError("t1")
	if err.TaskID != "t1" || err.Code != "TIMEOUT" {
		t.Fatalf("NewTimeoutError = %+v, want TaskID=t1 Code=TIMEOUT", err)
	}
}

func TestNewMaxRetriesExceededError(t *testing.T) {
	cause := errors.New("last failure")
	err := workflow.NewMaxRetriesExceededError("t1", 3, cause)
	if err.Code != "MAX_RETRIES_EXCEEDED" {
		t.Fatalf("Code = %s, want MAX_RETRIES_EXCEEDED", err.Code)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected MaxRetriesExceeded error to wrap the original cause")
	}
}

func TestCompensationReportErrorString(t *testing.T) {
	var nilReport *workflow.CompensationReport
	if got := nilReport.Error(); got != "" {
		t.Fatalf("nil report Error() = %q, want empty", got)
	}

	report := &workflow.CompensationReport{Failed: []workflow.CompensationFailure{
		{TaskID: "a", Err: errors.New("boom")},
	}}
	if got := report.Error(); got == "" {
		t.Fatalf("non-empty report Error() returned empty string")
	}
}

func TestDeadlockErrorIncludesDiagnostics(t *testing.T) {
	err := &workflow.DeadlockError{
		Running: []string{"r1"},
		Pending: map[string][]string{"p1": {"dep1"}},
		Cycle:   []string{"a", "b", "a"},
	}
	msg := err.Error()
	for _, want := range []string{"r1", "p1", "dep1", "cycle"} {
		if !containsSubstring(msg, want) {
			t.Fatalf("DeadlockError.Error() = %q, missing %q", msg, want)
		}
	}
}

func containsSubstring(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
