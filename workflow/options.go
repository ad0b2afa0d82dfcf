package workflow

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aster-run/aster-core/observability"
	"github.com/aster-run/aster-core/store"
)

// Option configures a Registry at construction time, mirroring the
// teacher's functional-options shape (graph.Option / engineConfig).
type Option func(*registryConfig) error

// registryConfig collects options before NewRegistry applies them.
type registryConfig struct {
	cfg Config
}

// Config is the scheduler-facing configuration surface (§6). Fields left
// zero take the documented defaults; EnvOverrides applies the two
// optional environment variables §6 names on top of whatever a caller
// already set, so tests that want hermetic config can skip env entirely
// by never calling it (§9: "replace with dependency-injected
// configuration; tests supply a config struct").
type Config struct {
	// ThreadPoolSize is the fixed worker pool size. Default: GOMAXPROCS.
	// A value of 1 gives the strictly serial execution used as the
	// determinism baseline (§8 boundary behaviours).
	ThreadPoolSize int

	// DefaultTimeout is applied to tasks registered without an explicit
	// per-task timeout. Zero means no timeout.
	DefaultTimeout time.Duration

	// ReplayMode makes retry backoffs come from the RETRY_SCHEDULED
	// events already in the event store instead of being computed. It
	// does not switch Clock or Random; a replaying Random is supplied
	// separately via WithRandom(NewReplayingRandom(...)).
	ReplayMode bool

	// QuiescenceGrace bounds how long RunWithTimeout (after CancelAll),
	// the task-failure path before compensation, and Shutdown wait for
	// in-flight workers to finish before giving up (§4.D run_with_timeout:
	// "waits up to a fixed grace period").
	QuiescenceGrace time.Duration

	// RetryPollInterval is the delay-queue poller cadence. Default: 100ms
	// (§4.E: "wakes at ≤100ms cadence").
	RetryPollInterval time.Duration

	Clock  Clock
	Random *Random
	Events store.EventStore
	Metrics *Metrics
	Emitter observability.Emitter
}

const (
	envThreadPoolSize   = "ASTER_THREAD_POOL_SIZE"
	envDefaultTimeoutMs = "ASTER_DEFAULT_TIMEOUT_MS"
)

// EnvOverrides applies ASTER_THREAD_POOL_SIZE and ASTER_DEFAULT_TIMEOUT_MS
// on top of cfg, per §6. Malformed values, a pool size below 1 and a
// negative timeout are ignored rather than erroring (a timeout of 0 is
// applied), matching the "optional overrides" framing — a
// caller that wants strict validation should parse them itself and use
// WithThreadPoolSize / WithDefaultTimeout directly.
func EnvOverrides(cfg Config) Config {
	if raw := os.Getenv(envThreadPoolSize); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.ThreadPoolSize = n
		}
	}
	if raw := os.Getenv(envDefaultTimeoutMs); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			cfg.DefaultTimeout = time.Duration(n) * time.Millisecond
		}
	}
	return cfg
}

func defaultConfig() Config {
	return Config{
		ThreadPoolSize:    runtime.GOMAXPROCS(0),
		DefaultTimeout:    0,
		ReplayMode:        false,
		QuiescenceGrace:   5 * time.Second,
		RetryPollInterval: 100 * time.Millisecond,
		Clock:             NewSystemClock(),
		Random:            NewLiveRandom(1),
		Events:            store.NewMemStore(),
		Emitter:           observability.NewNullEmitter(),
	}
}

// WithThreadPoolSize sets the fixed worker pool size. A size of 1 forces
// strictly serial, priority-then-registration-order execution (§8).
func WithThreadPoolSize(n int) Option {
	return func(c *registryConfig) error {
		if n < 1 {
			return ErrInvalidConfig
		}
		c.cfg.ThreadPoolSize = n
		return nil
	}
}

// WithDefaultTimeout sets the timeout applied to tasks registered without
// an explicit one.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *registryConfig) error {
		c.cfg.DefaultTimeout = d
		return nil
	}
}

// WithClock overrides the time source, primarily for tests that need to
// control trigger times without sleeping.
func WithClock(clock Clock) Option {
	return func(c *registryConfig) error {
		c.cfg.Clock = clock
		return nil
	}
}

// WithRandom overrides the deterministic RNG façade. Pass a
// NewReplayingRandom instance together with WithReplayMode(true) to
// replay a previously recorded run.
func WithRandom(rnd *Random) Option {
	return func(c *registryConfig) error {
		c.cfg.Random = rnd
		return nil
	}
}

// WithReplayMode toggles replay semantics (§6).
func WithReplayMode(enabled bool) Option {
	return func(c *registryConfig) error {
		c.cfg.ReplayMode = enabled
		return nil
	}
}

// WithEventStore overrides the EventStore collaborator. Default is an
// in-memory store.
func WithEventStore(es store.EventStore) Option {
	return func(c *registryConfig) error {
		c.cfg.Events = es
		return nil
	}
}

// WithQuiescenceGrace overrides the grace period RunWithTimeout, the
// task-failure path and Shutdown wait for in-flight workers to finish.
func WithQuiescenceGrace(d time.Duration) Option {
	return func(c *registryConfig) error {
		c.cfg.QuiescenceGrace = d
		return nil
	}
}

// WithRetryPollInterval overrides the delay-queue poller cadence.
func WithRetryPollInterval(d time.Duration) Option {
	return func(c *registryConfig) error {
		c.cfg.RetryPollInterval = d
		return nil
	}
}

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(registry prometheus.Registerer) Option {
	return func(c *registryConfig) error {
		c.cfg.Metrics = NewMetrics(registry)
		return nil
	}
}

// WithEmitter overrides the observability Emitter used for scheduling
// events (task state transitions, retries, compensation). Default is a
// no-op emitter.
func WithEmitter(e observability.Emitter) Option {
	return func(c *registryConfig) error {
		c.cfg.Emitter = e
		return nil
	}
}
