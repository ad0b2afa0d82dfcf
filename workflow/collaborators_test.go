package workflow_test

import (
	"context"
	"testing"

	"github.com/aster-run/aster-core/workflow"
)

func TestNoopEffectPolicyEnterExit(t *testing.T) {
	p := workflow.NewNoopEffectPolicy()
	guard, err := p.Enter(context.Background(), map[string]any{"cap": "io"})
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if err := guard.Exit(context.Background()); err != nil {
		t.Fatalf("Exit: %v", err)
	}
}

func TestEvaluatorFuncAdapts(t *testing.T) {
	called := false
	var ev workflow.Evaluator = workflow.EvaluatorFunc(func(ctx context.Context, taskBody workflow.TaskBody, snapshot workflow.Frame) (workflow.Value, error) {
		called = true
		return taskBody.Run(ctx, snapshot)
	})

	body := workflow.TaskBodyFunc(func(ctx context.Context, snapshot workflow.Frame) (workflow.Value, error) {
		return "value", nil
	})
	v, err := ev.Run(context.Background(), body, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !called || v != "value" {
		t.Fatalf("called=%v v=%v, want called=true v=value", called, v)
	}
}
