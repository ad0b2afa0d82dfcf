package workflow_test

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/aster-run/aster-core/workflow"
)

func TestWithThreadPoolSizeRejectsNonPositive(t *testing.T) {
	_, err := workflow.NewRegistry(workflow.WithThreadPoolSize(0))
	if !errors.Is(err, workflow.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestEnvOverridesAppliesThreadPoolSizeAndTimeout(t *testing.T) {
	t.Setenv("ASTER_THREAD_POOL_SIZE", "7")
	t.Setenv("ASTER_DEFAULT_TIMEOUT_MS", "250")

	cfg := workflow.EnvOverrides(workflow.Config{ThreadPoolSize: 1})
	if cfg.ThreadPoolSize != 7 {
		t.Fatalf("ThreadPoolSize = %d, want 7", cfg.ThreadPoolSize)
	}
	if cfg.DefaultTimeout != 250*time.Millisecond {
		t.Fatalf("DefaultTimeout = %v, want 250ms", cfg.DefaultTimeout)
	}
}

func TestEnvOverridesIgnoresMalformedValues(t *testing.T) {
	t.Setenv("ASTER_THREAD_POOL_SIZE", "not-a-number")
	os.Unsetenv("ASTER_DEFAULT_TIMEOUT_MS")

	cfg := workflow.EnvOverrides(workflow.Config{ThreadPoolSize: 3})
	if cfg.ThreadPoolSize != 3 {
		t.Fatalf("ThreadPoolSize = %d, want unchanged 3 on malformed env value", cfg.ThreadPoolSize)
	}
}

func TestWithEventStoreOverridesDefault(t *testing.T) {
	es := newRecordingStore()
	r, err := workflow.NewRegistry(workflow.WithEventStore(es), workflow.WithRetryPollInterval(5*time.Millisecond))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	defer r.Shutdown()

	if err := r.RegisterWithRetry("t", errorBody(errors.New("fail")), nil, workflow.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond}, 0, "wf", nil, nil); err != nil {
		t.Fatalf("RegisterWithRetry: %v", err)
	}
	_ = r.RunUntilComplete(contextWithTimeout(t))

	if es.appendCount() == 0 {
		t.Fatalf("expected RETRY_SCHEDULED to be appended to the overridden event store")
	}
}
