package workflow

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for a Registry, namespaced
// "aster_workflow_" (§2 "all scheduling decisions ... pass through" needs
// to be observable the way the teacher's PrometheusMetrics makes its own
// scheduler observable).
type Metrics struct {
	activeWorkers    prometheus.Gauge
	readyQueueDepth  prometheus.Gauge
	taskLatency      *prometheus.HistogramVec
	retries          *prometheus.CounterVec
	compensations    *prometheus.CounterVec
	deadlocks        prometheus.Counter

	mu      sync.RWMutex
	enabled bool
}

// NewMetrics registers every Registry metric with registry. Passing nil
// registers against prometheus.DefaultRegisterer.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		enabled: true,
		activeWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aster_workflow",
			Name:      "active_workers",
			Help:      "Number of workers currently executing a task body",
		}),
		readyQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "aster_workflow",
			Name:      "ready_queue_depth",
			Help:      "Number of tasks currently in the ready set",
		}),
		taskLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "aster_workflow",
			Name:      "task_latency_ms",
			Help:      "Task body execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
		}, []string{"workflow_id", "task_id", "status"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aster_workflow",
			Name:      "retries_total",
			Help:      "Cumulative count of task retry attempts scheduled",
		}, []string{"workflow_id", "task_id"}),
		compensations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "aster_workflow",
			Name:      "compensations_total",
			Help:      "Cumulative count of compensation-stack drains after a task failure, by outcome (ok or partial)",
		}, []string{"workflow_id", "status"}),
		deadlocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "aster_workflow",
			Name:      "deadlocks_total",
			Help:      "Cumulative count of deadlocks detected by run_until_complete",
		}),
	}
}

func (m *Metrics) recordLatency(workflowID, taskID string, ms float64, status string) {
	if m == nil || !m.enabledNow() {
		return
	}
	m.taskLatency.WithLabelValues(workflowID, taskID, status).Observe(ms)
}

func (m *Metrics) setActiveWorkers(n int) {
	if m == nil || !m.enabledNow() {
		return
	}
	m.activeWorkers.Set(float64(n))
}

func (m *Metrics) setReadyQueueDepth(n int) {
	if m == nil || !m.enabledNow() {
		return
	}
	m.readyQueueDepth.Set(float64(n))
}

func (m *Metrics) incRetry(workflowID, taskID string) {
	if m == nil || !m.enabledNow() {
		return
	}
	m.retries.WithLabelValues(workflowID, taskID).Inc()
}

func (m *Metrics) incCompensation(workflowID, status string) {
	if m == nil || !m.enabledNow() {
		return
	}
	m.compensations.WithLabelValues(workflowID, status).Inc()
}

func (m *Metrics) incDeadlock() {
	if m == nil || !m.enabledNow() {
		return
	}
	m.deadlocks.Inc()
}

func (m *Metrics) enabledNow() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Disable stops metric recording, useful in tests that construct many
// short-lived registries against the same default registerer.
func (m *Metrics) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enable re-enables metric recording after Disable.
func (m *Metrics) Enable() {
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
}
