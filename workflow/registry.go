package workflow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aster-run/aster-core/observability"
	"github.com/aster-run/aster-core/store"
)

// failureRecord is the published "first Failed task wins" marker (§4.D
// tie-breaking rules, §7 "Surfaced").
type failureRecord struct {
	taskID string
	err    error
}

// Registry is the TaskRegistry collaborator (§4.D), the heart of the
// scheduler: it owns the task state machine, drives the scheduling loop,
// submits work to a bounded worker pool, enforces timeouts, and reports
// results. It is built from a dependencyGraph (§4.C), a retryEngine
// (§4.E) and a compensationStacks (§4.F), grounded in the teacher's
// Frontier/Engine split (graph/scheduler.go, graph/engine.go) generalized
// from a single shared-state graph walk to independent dependency-gated
// tasks.
type Registry struct {
	mu    sync.Mutex
	graph *dependencyGraph
	tasks map[string]*Task

	cfg   Config
	sem   *semaphore.Weighted
	retry *retryEngine
	comp  *compensationStacks

	nonTerminal atomic.Int64
	running     atomic.Int64

	failure atomic.Pointer[failureRecord]

	wake chan struct{}

	// eg tracks every worker goroutine's lifetime for Shutdown's bounded
	// join. It is a plain errgroup.Group, not errgroup.WithContext:
	// workers never return a non-nil error to it, so a business-logic
	// task failure never cancels unrelated sibling workers the way a
	// shared derived context would.
	eg     *errgroup.Group
	cancel context.CancelFunc

	closed atomic.Bool
}

// NewRegistry builds a Registry from the given options, applying
// defaultConfig first.
func NewRegistry(opts ...Option) (*Registry, error) {
	rc := &registryConfig{cfg: defaultConfig()}
	for _, opt := range opts {
		if err := opt(rc); err != nil {
			return nil, err
		}
	}
	cfg := rc.cfg

	ctx, cancel := context.WithCancel(context.Background())

	r := &Registry{
		graph:  newDependencyGraph(),
		tasks:  make(map[string]*Task),
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.ThreadPoolSize)),
		comp:   newCompensationStacks(cfg.Events, cfg.Emitter),
		wake:   make(chan struct{}, 1),
		eg:     &errgroup.Group{},
		cancel: cancel,
	}
	r.retry = newRetryEngine(cfg.Clock, cfg.Random, cfg.Events, r.rearm)
	r.retry.pollInterval = cfg.RetryPollInterval
	r.retry.start(ctx)
	return r, nil
}

func (r *Registry) wakeLoop() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Register enters a new task (§4.D public contract). Failure if id
// already exists, if a dependency was never registered, or if it would
// create a cycle.
func (r *Registry) Register(id string, body TaskBody, deps []string, priority int, timeout time.Duration, compensation CompensationFunc, workflowID string, frame Frame) error {
	return r.register(id, body, deps, priority, timeout, nil, compensation, workflowID, frame)
}

// RegisterWithRetry is Register plus retry bookkeeping (§4.D).
func (r *Registry) RegisterWithRetry(id string, body TaskBody, deps []string, policy RetryPolicy, priority int, workflowID string, compensation CompensationFunc, frame Frame) error {
	if err := policy.Validate(); err != nil {
		return err
	}
	return r.register(id, body, deps, priority, 0, &policy, compensation, workflowID, frame)
}

func (r *Registry) register(id string, body TaskBody, deps []string, priority int, timeout time.Duration, policy *RetryPolicy, compensation CompensationFunc, workflowID string, frame Frame) error {
	if r.closed.Load() {
		return ErrShutdown
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; exists {
		return ErrDuplicateTask
	}
	for _, d := range deps {
		if _, ok := r.tasks[d]; !ok {
			return fmt.Errorf("%w: %s depends on unregistered task %s", ErrUnknownDependency, id, d)
		}
	}

	if timeout == 0 {
		timeout = r.cfg.DefaultTimeout
	}

	seq := int64(len(r.tasks))
	if err := r.graph.add(id, deps, priority); err != nil {
		return err
	}

	task := newTask(id, workflowID, deps, priority, timeout, body, policy, compensation, frame, seq)
	r.tasks[id] = task
	r.nonTerminal.Add(1)

	// A task whose dependencies are already satisfied must be picked up
	// by the very next loop iteration, so immediately signal a wake
	// rather than waiting for the poll fallback (§8: "registering a task
	// whose deps are already Completed ⇒ immediately ready").
	r.wakeLoop()
	return nil
}

// RunUntilComplete drives the scheduling loop until every registered task
// reaches a terminal state, or a failure/deadlock aborts it (§4.D).
func (r *Registry) RunUntilComplete(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.nonTerminal.Load() == 0 {
			return nil
		}
		if fr := r.failure.Load(); fr != nil {
			return r.finalizeFailure(ctx, fr)
		}

		submitted := r.submitReady(ctx)

		if submitted == 0 {
			if r.running.Load() > 0 {
				if !r.parkForWake(ctx, ticker) {
					return ctx.Err()
				}
				continue
			}
			// Nothing ready, nothing running: recheck before declaring
			// deadlock in case a completion landed between the load
			// above and here (§4.D step 3: "Before failing, re-check
			// the counter").
			if r.nonTerminal.Load() == 0 {
				return nil
			}
			if fr := r.failure.Load(); fr != nil {
				return r.finalizeFailure(ctx, fr)
			}
			return r.buildDeadlock()
		}

		if !r.parkForWake(ctx, ticker) {
			return ctx.Err()
		}
	}
}

func (r *Registry) parkForWake(ctx context.Context, ticker *time.Ticker) bool {
	select {
	case <-ctx.Done():
		return false
	case <-r.wake:
		return true
	case <-ticker.C:
		return true
	}
}

// RunWithTimeout wraps RunUntilComplete with an outer deadline (§4.D).
// On expiry it cancels every non-terminal task, waits up to
// Config.QuiescenceGrace for running tasks to observe the cancellation,
// and reports WorkflowTimeoutError.
func (r *Registry) RunWithTimeout(ctx context.Context, timeout time.Duration, workflowID string) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := r.RunUntilComplete(deadlineCtx)
	if err == nil {
		return nil
	}
	if deadlineCtx.Err() != context.DeadlineExceeded {
		return err
	}

	r.CancelAll()
	r.AwaitQuiescent(context.Background(), r.cfg.QuiescenceGrace)
	return &WorkflowTimeoutError{WorkflowID: workflowID, TimeoutMs: timeout.Milliseconds()}
}

// submitReady snapshots the ready set and hands every still-Pending entry
// to the worker pool, CASing `submitted` false→true so a task is never
// dispatched twice (§4.D step 2).
func (r *Registry) submitReady(ctx context.Context) int {
	r.mu.Lock()
	ids := r.graph.readySnapshot()
	var toRun []*Task
	for _, id := range ids {
		t := r.tasks[id]
		if t == nil || t.State() != StatePending {
			continue
		}
		if !t.submitted.CompareAndSwap(false, true) {
			continue
		}
		toRun = append(toRun, t)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.setReadyQueueDepth(len(ids))
	}
	r.mu.Unlock()

	for _, t := range toRun {
		task := t
		r.eg.Go(func() error {
			r.runWorker(ctx, task)
			return nil
		})
	}
	return len(toRun)
}

// runWorker executes one task attempt (§4.D step 4).
func (r *Registry) runWorker(ctx context.Context, t *Task) {
	defer r.wakeLoop()

	if r.dependencyFailed(t) {
		r.cancelOne(t)
		return
	}

	if !t.cas(StatePending, StateRunning) {
		// Lost the race to a concurrent cancel; nothing further to do.
		return
	}
	r.running.Add(1)
	r.cfg.Emitter.Emit(observability.Event{WorkflowID: t.WorkflowID, TaskID: t.ID, Msg: "task_started", Meta: map[string]any{"attempt": t.Attempt()}})

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.running.Add(-1)
		if t.cas(StateRunning, StateCancelled) {
			t.finishTerminal(StateCancelled, nil, err)
			r.nonTerminal.Add(-1)
		}
		return
	}
	defer r.sem.Release(1)

	taskCtx := ctx
	var taskCancel context.CancelFunc
	if t.Timeout > 0 {
		taskCtx, taskCancel = context.WithTimeout(ctx, t.Timeout)
	} else {
		taskCtx, taskCancel = context.WithCancel(ctx)
	}
	t.setCancelFunc(taskCancel)
	defer taskCancel()

	start := r.cfg.Clock.Now()
	value, err := t.Body.Run(taskCtx, t.Frame)
	r.running.Add(-1)
	latencyMs := float64(r.cfg.Clock.Now().Sub(start).Milliseconds())

	if err == nil {
		r.finishSuccess(t, value, latencyMs)
		return
	}
	if taskCtx.Err() == context.DeadlineExceeded {
		err = NewTimeoutError(t.ID)
	}
	r.finishFailureOrRetry(ctx, t, err, latencyMs)
}

// dependencyFailed reports whether any of t's dependencies ended up
// Failed or Cancelled, meaning t must cascade-cancel rather than run
// (§4.D step 4.a). Under normal operation cascadeCancel already flips
// such tasks before they are ever picked up; this is the defensive
// fallback for the race where a dependency fails between a ready-set
// snapshot and this worker starting.
func (r *Registry) dependencyFailed(t *Task) bool {
	for _, dep := range t.Deps {
		d := r.taskByID(dep)
		if d == nil {
			continue
		}
		switch d.State() {
		case StateFailed, StateCancelled:
			return true
		}
	}
	return false
}

func (r *Registry) taskByID(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}

func (r *Registry) finishSuccess(t *Task, value Value, latencyMs float64) {
	if !t.cas(StateRunning, StateCompleted) {
		return
	}
	t.finishTerminal(StateCompleted, value, nil)
	r.nonTerminal.Add(-1)

	if t.Compensation != nil {
		r.comp.push(t.WorkflowID, t.ID, t.Compensation)
	}

	r.mu.Lock()
	r.graph.markCompleted(t.ID)
	r.mu.Unlock()

	r.cfg.Metrics.recordLatency(t.WorkflowID, t.ID, latencyMs, "success")
	r.cfg.Emitter.Emit(observability.Event{WorkflowID: t.WorkflowID, TaskID: t.ID, Msg: "task_completed"})
}

func (r *Registry) finishFailureOrRetry(ctx context.Context, t *Task, cause error, latencyMs float64) {
	if t.Retry != nil && t.Attempt() < t.Retry.MaxAttempts {
		r.scheduleRetry(ctx, t, cause, latencyMs)
		return
	}

	if !t.cas(StateRunning, StateFailed) {
		return
	}
	finalErr := cause
	if t.Retry != nil {
		finalErr = NewMaxRetriesExceededError(t.ID, t.Retry.MaxAttempts, cause)
	}
	t.finishTerminal(StateFailed, nil, finalErr)
	r.nonTerminal.Add(-1)

	r.cfg.Metrics.recordLatency(t.WorkflowID, t.ID, latencyMs, "error")
	r.cfg.Emitter.Emit(observability.Event{WorkflowID: t.WorkflowID, TaskID: t.ID, Msg: "task_failed", Meta: map[string]any{"error": finalErr.Error()}})

	r.failure.CompareAndSwap(nil, &failureRecord{taskID: t.ID, err: finalErr})
	r.cascadeCancel(t.ID)
}

// nextBackoff resolves the delay for the upcoming attempt (attempt+1).
// In replay mode the delay is never recomputed: it is read back from the
// RETRY_SCHEDULED event the original recorded run persisted for this
// exact (workflow_id, attempt+1), per §4.E ("on a replayed run the
// backoff is not recomputed; it is read from the stored event"). A
// missing or mismatched event is a replay divergence, not a fallback to
// recomputation. Outside replay mode the delay is computed fresh from
// the policy and the live/recording Random facade.
func (r *Registry) nextBackoff(ctx context.Context, t *Task, attempt int) (time.Duration, error) {
	if r.cfg.ReplayMode {
		evt, err := store.FindRetryScheduled(ctx, r.cfg.Events, t.WorkflowID, t.ID, attempt+1)
		if err != nil {
			return 0, fmt.Errorf("%w: no recorded RETRY_SCHEDULED event for task %s attempt %d: %v", ErrReplayDivergence, t.ID, attempt+1, err)
		}
		return time.Duration(evt.BackoffDelayMs) * time.Millisecond, nil
	}
	return computeBackoff(attempt, t.Retry.Strategy, t.Retry.BaseDelay, r.cfg.Random)
}

// scheduleRetry implements §4.D step 4.d and §4.E.
func (r *Registry) scheduleRetry(ctx context.Context, t *Task, cause error, latencyMs float64) {
	attempt := t.Attempt()
	delay, err := r.nextBackoff(ctx, t, attempt)
	if err != nil {
		// Replay divergence (missing/mismatched event, or an exhausted
		// recorded RNG sequence) is fatal to this attempt; surface it as
		// the task's terminal failure rather than silently losing the
		// retry (§7: ReplayDivergence must not be swallowed).
		if t.cas(StateRunning, StateFailed) {
			t.finishTerminal(StateFailed, nil, err)
			r.nonTerminal.Add(-1)
			r.failure.CompareAndSwap(nil, &failureRecord{taskID: t.ID, err: err})
			r.cascadeCancel(t.ID)
		}
		return
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	if err := r.retry.scheduleRetry(ctx, t.ID, t.WorkflowID, delay, attempt+1, reason); err != nil {
		if t.cas(StateRunning, StateFailed) {
			t.finishTerminal(StateFailed, nil, err)
			r.nonTerminal.Add(-1)
			r.failure.CompareAndSwap(nil, &failureRecord{taskID: t.ID, err: err})
			r.cascadeCancel(t.ID)
		}
		return
	}

	if !t.resetForRetry() {
		return
	}
	r.cfg.Metrics.incRetry(t.WorkflowID, t.ID)
	r.cfg.Metrics.recordLatency(t.WorkflowID, t.ID, latencyMs, "retry")
	r.cfg.Emitter.Emit(observability.Event{WorkflowID: t.WorkflowID, TaskID: t.ID, Msg: "task_retrying", Meta: map[string]any{"attempt": attempt + 1, "backoffMs": delay.Milliseconds()}})
}

// rearm is the retryEngine's callback (§4.E "re-arms it in the
// registry"): re-check dependencies, clear submitted, and let the next
// loop iteration pick it back up. If dependencies are still unsatisfied,
// re-enqueue with a small additional delay rather than dropping it.
func (r *Registry) rearm(ctx context.Context, taskID string) {
	t := r.taskByID(taskID)
	if t == nil || t.State().terminal() {
		return
	}

	r.mu.Lock()
	unmet := r.graph.unmetDeps(taskID)
	r.mu.Unlock()

	if len(unmet) > 0 {
		r.retry.requeue(&delayedTask{taskID: taskID, workflowID: t.WorkflowID}, 20*time.Millisecond)
		return
	}

	t.submitted.Store(false)
	r.wakeLoop()
}

// cascadeCancel transitions every transitive dependent of id from
// Pending to Cancelled, recursively, per §5 "Cancellation of a task
// cancels all transitive dependents immediately."
func (r *Registry) cascadeCancel(id string) {
	r.mu.Lock()
	var direct []*Task
	for _, t := range r.tasks {
		for _, d := range t.Deps {
			if d == id {
				direct = append(direct, t)
				break
			}
		}
	}
	r.mu.Unlock()

	for _, t := range direct {
		if r.cancelOne(t) {
			r.cascadeCancel(t.ID)
		}
	}
}

// cancelOne attempts Pending → Cancelled on t. Returns true if this call
// performed the transition (so the caller should continue cascading).
func (r *Registry) cancelOne(t *Task) bool {
	if !t.cas(StatePending, StateCancelled) {
		return false
	}
	t.finishTerminal(StateCancelled, nil, nil)
	r.nonTerminal.Add(-1)
	r.cfg.Emitter.Emit(observability.Event{WorkflowID: t.WorkflowID, TaskID: t.ID, Msg: "task_cancelled"})
	return true
}

// Cancel requests cancellation of a single task (§5).
func (r *Registry) Cancel(id string) error {
	t := r.taskByID(id)
	if t == nil {
		return fmt.Errorf("%w: %s", ErrUnknownDependency, id)
	}
	switch t.State() {
	case StatePending:
		if r.cancelOne(t) {
			r.cascadeCancel(t.ID)
			r.wakeLoop()
		}
	case StateRunning:
		t.interrupt()
	}
	return nil
}

// CancelAll requests cancellation of every non-terminal task (§4.D).
func (r *Registry) CancelAll() {
	r.mu.Lock()
	all := make([]*Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		all = append(all, t)
	}
	r.mu.Unlock()

	for _, t := range all {
		switch t.State() {
		case StatePending:
			r.cancelOne(t)
		case StateRunning:
			t.interrupt()
		}
	}
	r.wakeLoop()
}

// AwaitQuiescent waits for every non-terminal task's handle to resolve,
// up to timeout. Returns false on timeout (§4.D).
func (r *Registry) AwaitQuiescent(ctx context.Context, timeout time.Duration) bool {
	deadline := time.After(timeout)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		if r.nonTerminal.Load() == 0 && r.running.Load() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline:
			return r.nonTerminal.Load() == 0 && r.running.Load() == 0
		case <-ticker.C:
		}
	}
}

func (r *Registry) buildDeadlock() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-check under the lock before committing to the diagnostic, per
	// §4.D step 3's final caveat.
	if r.nonTerminal.Load() == 0 {
		return nil
	}

	diag := &DeadlockError{Pending: make(map[string][]string)}
	var firstPending string
	for id, t := range r.tasks {
		switch t.State() {
		case StateRunning:
			diag.Running = append(diag.Running, id)
		case StatePending:
			diag.Pending[id] = r.graph.unmetDeps(id)
			if firstPending == "" {
				firstPending = id
			}
		}
	}
	if firstPending != "" {
		diag.Cycle = r.graph.findCycle(firstPending)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.incDeadlock()
	}
	return diag
}

func (r *Registry) finalizeFailure(ctx context.Context, fr *failureRecord) error {
	r.AwaitQuiescent(ctx, r.cfg.QuiescenceGrace)

	t := r.taskByID(fr.taskID)
	workflowID := ""
	if t != nil {
		workflowID = t.WorkflowID
	}
	report := r.comp.drain(ctx, workflowID)
	status := "ok"
	if report != nil {
		status = "partial"
	}
	r.cfg.Metrics.incCompensation(workflowID, status)

	return &TaskFailure{TaskID: fr.taskID, WorkflowID: workflowID, Cause: fr.err, Compensation: report}
}

// DrainCompensation exposes the compensation stack drain for the
// orchestrator's outer-catch path (§4.G step 5: "the orchestrator does it
// explicitly for outer catches"), used after WorkflowTimeoutError.
func (r *Registry) DrainCompensation(ctx context.Context, workflowID string) *CompensationReport {
	return r.comp.drain(ctx, workflowID)
}

// ClearCompensation discards workflowID's compensation stack without
// running it (§4.F: "cleared on workflow success").
func (r *Registry) ClearCompensation(workflowID string) {
	r.comp.clear(workflowID)
}

// Remove evicts a task from the graph and task map (§4.G step 6: "always
// remove each registered task ... before returning").
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.graph.remove(id)
	delete(r.tasks, id)
}

// Task returns the registered task for id, or nil.
func (r *Registry) Task(id string) *Task {
	return r.taskByID(id)
}

// Shutdown stops the delay-queue poller and drains the worker pool with a
// bounded join (§4.D): it cancels every worker's context, then waits at
// most Config.QuiescenceGrace for the workers to return.
func (r *Registry) Shutdown() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	r.retry.stop()
	r.cancel()
	done := make(chan struct{})
	go func() {
		_ = r.eg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(r.cfg.QuiescenceGrace):
	}
}
