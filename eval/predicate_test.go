package eval_test

import (
	"testing"

	"github.com/aster-run/aster-core/eval"
)

func TestPredicateEngineCompileAndEval(t *testing.T) {
	eng, err := eval.NewPredicateEngine([]string{"attempt", "maxAttempts"})
	if err != nil {
		t.Fatalf("NewPredicateEngine: %v", err)
	}
	pred, err := eng.Compile("attempt < maxAttempts")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	ok, err := pred.Eval(map[string]any{"attempt": 1, "maxAttempts": 3})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if !ok {
		t.Fatalf("Eval(1 < 3) = false, want true")
	}

	ok, err = pred.Eval(map[string]any{"attempt": 3, "maxAttempts": 3})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if ok {
		t.Fatalf("Eval(3 < 3) = true, want false")
	}
}

func TestPredicateEngineCompileReusedAcrossEvals(t *testing.T) {
	eng, err := eval.NewPredicateEngine([]string{"status"})
	if err != nil {
		t.Fatalf("NewPredicateEngine: %v", err)
	}
	pred, err := eng.Compile(`status == "ready"`)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}

	for _, tc := range []struct {
		status string
		want   bool
	}{
		{"ready", true},
		{"pending", false},
	} {
		ok, err := pred.Eval(map[string]any{"status": tc.status})
		if err != nil {
			t.Fatalf("Eval(%q): %v", tc.status, err)
		}
		if ok != tc.want {
			t.Fatalf("Eval(%q) = %v, want %v", tc.status, ok, tc.want)
		}
	}
}

func TestPredicateEngineNonBoolResultErrors(t *testing.T) {
	eng, err := eval.NewPredicateEngine([]string{"n"})
	if err != nil {
		t.Fatalf("NewPredicateEngine: %v", err)
	}
	pred, err := eng.Compile("n + 1")
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if _, err := pred.Eval(map[string]any{"n": 1}); err == nil {
		t.Fatalf("expected error for non-bool guard result")
	}
}

func TestPredicateEngineCompileErrorOnBadSyntax(t *testing.T) {
	eng, err := eval.NewPredicateEngine([]string{"n"})
	if err != nil {
		t.Fatalf("NewPredicateEngine: %v", err)
	}
	if _, err := eng.Compile("n +++ 1"); err == nil {
		t.Fatalf("expected compile error for malformed guard expression")
	}
}

func TestEvalGuardOneShot(t *testing.T) {
	ok, err := eval.EvalGuard("retriesLeft > 0", map[string]any{"retriesLeft": 2})
	if err != nil {
		t.Fatalf("EvalGuard: %v", err)
	}
	if !ok {
		t.Fatalf("EvalGuard(2 > 0) = false, want true")
	}

	ok, err = eval.EvalGuard("retriesLeft > 0", map[string]any{"retriesLeft": 0})
	if err != nil {
		t.Fatalf("EvalGuard: %v", err)
	}
	if ok {
		t.Fatalf("EvalGuard(0 > 0) = true, want false")
	}
}
