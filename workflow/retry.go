package workflow

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/aster-run/aster-core/store"
)

// RetryStrategy selects the backoff curve used by computeBackoff (§3, §4.E).
type RetryStrategy int

const (
	// LinearBackoff computes delay = base * attempt + jitter.
	LinearBackoff RetryStrategy = iota
	// ExponentialBackoff computes delay = base * 2^(attempt-1) + jitter.
	ExponentialBackoff
)

// backoffTag is the stable, domain-meaningful RNG call-site tag for retry
// jitter (§9 Design Notes: "tags must be stable strings; avoid line numbers
// or source positions").
const backoffTag = "async-task-backoff"

// RetryPolicy configures automatic retry for a task (§3).
type RetryPolicy struct {
	// MaxAttempts is the maximum number of execution attempts, including
	// the first. A value of 1 means no retries.
	MaxAttempts int
	// Strategy selects linear or exponential backoff.
	Strategy RetryStrategy
	// BaseDelay is the base delay used by both strategies.
	BaseDelay time.Duration
}

// Validate checks the policy is internally consistent.
func (p *RetryPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if p.BaseDelay < 0 {
		return ErrInvalidRetryPolicy
	}
	return nil
}

// computeBackoff implements §4.E's formula exactly:
//
//	linear:      delay = base * attempt + jitter
//	exponential: delay = base * 2^(attempt-1) + jitter
//	jitter       = floor_mod(rng.next_long(tag), max(0, base/2))
//
// attempt is 1-based (the attempt that just failed). rnd must not be nil.
func computeBackoff(attempt int, strategy RetryStrategy, base time.Duration, rnd *Random) (time.Duration, error) {
	var raw time.Duration
	switch strategy {
	case ExponentialBackoff:
		raw = base * time.Duration(1<<uint(attempt-1))
	default:
		raw = base * time.Duration(attempt)
	}

	modulus := int64(base / 2)
	if modulus < 0 {
		modulus = 0
	}

	jitterSeed, err := rnd.NextLong(backoffTag)
	if err != nil {
		return 0, err
	}
	jitter := time.Duration(floorMod(jitterSeed, modulus))

	return raw + jitter, nil
}

// delayedTask is one entry in the retry engine's min-heap, triggered when
// Clock.Now() passes TriggerAt (§4.E).
type delayedTask struct {
	taskID     string
	workflowID string
	attempt    int
	reason     string
	triggerAt  time.Time
	index      int // heap.Interface bookkeeping
}

type delayHeap []*delayedTask

func (h delayHeap) Len() int            { return len(h) }
func (h delayHeap) Less(i, j int) bool  { return h[i].triggerAt.Before(h[j].triggerAt) }
func (h delayHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayHeap) Push(x interface{}) {
	dt := x.(*delayedTask)
	dt.index = len(*h)
	*h = append(*h, dt)
}
func (h *delayHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// retryEngine computes backoff and drives the delayed-retry poller (§4.E).
// It is owned by a single Registry and re-arms tasks through it; the
// min-heap is guarded by its own lock, touched only around peek/pop/push as
// the spec requires (§5).
type retryEngine struct {
	clock  Clock
	rnd    *Random
	events store.EventStore

	mu   sync.Mutex
	heap delayHeap

	pollInterval time.Duration
	reArm        func(ctx context.Context, taskID string) // re-checks deps, clears submitted, wakes the scheduling loop

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newRetryEngine(clock Clock, rnd *Random, events store.EventStore, reArm func(ctx context.Context, taskID string)) *retryEngine {
	e := &retryEngine{
		clock:        clock,
		rnd:          rnd,
		events:       events,
		pollInterval: 100 * time.Millisecond,
		reArm:        reArm,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}
	heap.Init(&e.heap)
	return e
}

// start launches the background poller (§4.E: "wakes at ≤100ms cadence").
func (e *retryEngine) start(ctx context.Context) {
	go e.pollLoop(ctx)
}

func (e *retryEngine) stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *retryEngine) pollLoop(ctx context.Context) {
	defer close(e.doneCh)
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.drainDue(ctx)
		}
	}
}

// drainDue pops every entry whose trigger time has passed and re-arms it.
func (e *retryEngine) drainDue(ctx context.Context) {
	now := e.clock.Now()
	for {
		e.mu.Lock()
		if e.heap.Len() == 0 {
			e.mu.Unlock()
			return
		}
		next := e.heap[0]
		if next.triggerAt.After(now) {
			e.mu.Unlock()
			return
		}
		heap.Pop(&e.heap)
		e.mu.Unlock()

		e.reArm(ctx, next.taskID)
	}
}

// scheduleRetry records a RETRY_SCHEDULED event and pushes the delayed
// re-arm onto the heap (§4.E).
func (e *retryEngine) scheduleRetry(ctx context.Context, taskID, workflowID string, delay time.Duration, attempt int, reason string) error {
	_, err := e.events.Append(ctx, workflowID, store.RetryScheduled, map[string]any{"taskId": taskID}, attempt, delay.Milliseconds(), reason)
	if err != nil {
		return err
	}

	e.mu.Lock()
	heap.Push(&e.heap, &delayedTask{
		taskID:     taskID,
		workflowID: workflowID,
		attempt:    attempt,
		reason:     reason,
		triggerAt:  e.clock.Now().Add(delay),
	})
	e.mu.Unlock()
	return nil
}

// requeue pushes an entry back with a small additional delay, used when a
// trigger fired but the task's dependencies are still unsatisfied (§4.E:
// "re-enqueued with a small additional delay rather than being dropped").
func (e *retryEngine) requeue(dt *delayedTask, extra time.Duration) {
	dt.triggerAt = e.clock.Now().Add(extra)
	e.mu.Lock()
	heap.Push(&e.heap, dt)
	e.mu.Unlock()
}
