package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type recordingSleeper struct {
	slept []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func rateLimited() error { return NewStatusError("anthropic", 429, "slow down", nil) }
func overloaded() error  { return NewStatusError("anthropic", 529, "overloaded", nil) }

func researchCfg(s Sleeper) RetryConfig {
	return ResearchRetryConfig(3, []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}, s)
}

// doErr runs fn under cfg for callers with no value to return.
func doErr(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func TestDoVal_SuccessOnFirstAttempt(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls int
	err := doErr(context.Background(), researchCfg(sleeper), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if len(sleeper.slept) != 0 {
		t.Errorf("expected no sleeps, got %v", sleeper.slept)
	}
}

func TestDoVal_FixedScheduleOnRateLimit(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls int
	err := doErr(context.Background(), researchCfg(sleeper), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return rateLimited()
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{5 * time.Second, 15 * time.Second}
	if len(sleeper.slept) != len(want) || sleeper.slept[0] != want[0] || sleeper.slept[1] != want[1] {
		t.Errorf("expected sleeps %v, got %v", want, sleeper.slept)
	}
}

func TestDoVal_ExhaustsOnOverload(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls int
	err := doErr(context.Background(), researchCfg(sleeper), func(_ context.Context) error {
		calls++
		return overloaded()
	})
	if ClassOf(err) != ClassOverload {
		t.Fatalf("expected overload error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(sleeper.slept) != 2 {
		t.Errorf("expected 2 sleeps, got %d", len(sleeper.slept))
	}
}

func TestDoVal_AuthNotRetried(t *testing.T) {
	sleeper := &recordingSleeper{}
	var calls int
	err := doErr(context.Background(), researchCfg(sleeper), func(_ context.Context) error {
		calls++
		return NewStatusError("anthropic", 401, "invalid x-api-key", nil)
	})
	if !IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ServerErrorNotRetriedByResearchPolicy(t *testing.T) {
	var calls int
	_ = doErr(context.Background(), researchCfg(&recordingSleeper{}), func(_ context.Context) error {
		calls++
		return NewStatusError("anthropic", 500, "", nil)
	})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoVal_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := doErr(ctx, researchCfg(&recordingSleeper{}), func(_ context.Context) error {
		calls++
		cancel()
		return rateLimited()
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call after cancel, got %d", calls)
	}
}

func TestDoVal_OnRetryCallback(t *testing.T) {
	var retryAttempts []int
	cfg := researchCfg(&recordingSleeper{})
	cfg.OnRetry = func(attempt int, _ error) {
		retryAttempts = append(retryAttempts, attempt)
	}

	_ = doErr(context.Background(), cfg, func(_ context.Context) error {
		return rateLimited()
	})

	if len(retryAttempts) != 2 || retryAttempts[0] != 1 || retryAttempts[1] != 2 {
		t.Errorf("expected attempts [1 2], got %v", retryAttempts)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), researchCfg(&recordingSleeper{}), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", overloaded()
		}
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello" {
		t.Errorf("expected %q, got %q", "hello", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), researchCfg(&recordingSleeper{}), func(_ context.Context) (int, error) {
		return 42, errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
}

func TestDoVal_DefaultConfig(t *testing.T) {
	var calls atomic.Int32
	err := doErr(context.Background(), RetryConfig{}, func(_ context.Context) error {
		calls.Add(1)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", calls.Load())
	}
}

func TestDelay_FixedScheduleRepeatsLast(t *testing.T) {
	cfg := RetryConfig{Delays: []time.Duration{time.Second, 2 * time.Second}}
	got := []time.Duration{cfg.Delay(0), cfg.Delay(1), cfg.Delay(5)}
	want := []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Delay(%d) = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDelay_EmptySchedule(t *testing.T) {
	if got := (RetryConfig{}).Delay(3); got != 0 {
		t.Errorf("Delay(3) = %v, want 0", got)
	}
}

func TestTimerSleeper_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := TimerSleeper{}.Sleep(ctx, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleep did not return promptly on cancel")
	}
}

func TestApplyDefaults_RetriesOnlyRateLimitAndOverload(t *testing.T) {
	cfg := applyDefaults(RetryConfig{})
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", cfg.MaxAttempts)
	}
	if !cfg.ShouldRetry(rateLimited()) || !cfg.ShouldRetry(overloaded()) {
		t.Error("rate limits and overloads should be retried")
	}
	if cfg.ShouldRetry(NewStatusError("x", 500, "", nil)) {
		t.Error("500 should not be retried")
	}
}
