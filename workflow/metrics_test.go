package workflow

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsNilReceiverIsNoop(t *testing.T) {
	var m *Metrics
	// None of these may panic on a nil *Metrics: an unconfigured Registry
	// (no WithMetrics option) must incur zero overhead and zero risk.
	m.recordLatency("wf", "t", 1.0, "success")
	m.setActiveWorkers(1)
	m.setReadyQueueDepth(1)
	m.incRetry("wf", "t")
	m.incCompensation("wf", "ok")
	m.incDeadlock()
	if m.enabledNow() {
		t.Fatalf("enabledNow() on nil receiver = true, want false")
	}
}

func TestMetricsDisableEnable(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	if !m.enabledNow() {
		t.Fatalf("freshly constructed Metrics must be enabled")
	}
	m.Disable()
	if m.enabledNow() {
		t.Fatalf("enabledNow() after Disable = true, want false")
	}
	m.Enable()
	if !m.enabledNow() {
		t.Fatalf("enabledNow() after Enable = false, want true")
	}
}

func TestMetricsIncDeadlockObservable(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.incDeadlock()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "aster_workflow_deadlocks_total" {
			found = f
		}
	}
	if found == nil {
		t.Fatalf("aster_workflow_deadlocks_total not registered")
	}
	if got := found.Metric[0].GetCounter().GetValue(); got != 1 {
		t.Fatalf("deadlocks_total = %v, want 1", got)
	}
}
