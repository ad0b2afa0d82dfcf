package observability_test

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aster-run/aster-core/observability"
)

func TestOTelEmitterAnnotatesSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	emitter := observability.NewOTelEmitter(tp.Tracer("test"))
	emitter.Emit(observability.Event{
		WorkflowID: "wf-1",
		TaskID:     "t-1",
		Msg:        "task_failed",
		Meta:       map[string]any{"error": "boom", "attempt": 2},
	})

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("got %d spans, want 1", len(spans))
	}
	span := spans[0]
	if span.Name != "task_failed" {
		t.Fatalf("span name = %q, want task_failed", span.Name)
	}

	attrs := map[string]bool{}
	for _, kv := range span.Attributes {
		attrs[string(kv.Key)] = true
	}
	for _, want := range []string{"aster.workflow_id", "aster.task_id", "aster.attempt"} {
		if !attrs[want] {
			t.Fatalf("span attributes %v missing %q", attrs, want)
		}
	}
	if span.Status.Code.String() != "Error" {
		t.Fatalf("span status = %v, want Error (event carried a Meta[\"error\"])", span.Status.Code)
	}
}

func TestOTelEmitterEmitBatch(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	emitter := observability.NewOTelEmitter(tp.Tracer("test"))
	err := emitter.EmitBatch(context.Background(), []observability.Event{
		{WorkflowID: "wf", Msg: "a"},
		{WorkflowID: "wf", Msg: "b"},
	})
	if err != nil {
		t.Fatalf("EmitBatch: %v", err)
	}
	if got := len(exporter.GetSpans()); got != 2 {
		t.Fatalf("got %d spans, want 2", got)
	}
}
