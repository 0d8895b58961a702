package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sleeper waits between attempts. Tests substitute a recording fake so no
// real time passes.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer and returns early with ctx.Err() on
// cancellation.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryConfig controls retry behavior. The wait before retry n is
// Delays[n-1]; the last entry repeats.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	// Default: 3.
	MaxAttempts int

	// Delays is a fixed, attempt-indexed delay schedule. Empty means retry
	// immediately.
	Delays []time.Duration

	// ShouldRetry decides whether an error is retried. If nil,
	// IsRateLimitOrOverload is used.
	ShouldRetry func(err error) bool

	// OnRetry is called before each retry sleep with the attempt number
	// (1-based) that just failed.
	OnRetry func(attempt int, err error)

	// Sleeper defaults to TimerSleeper.
	Sleeper Sleeper
}

// ResearchRetryConfig is the policy for research calls: a fixed schedule that
// retries only rate limits and overloads.
func ResearchRetryConfig(maxAttempts int, delays []time.Duration, sleeper Sleeper) RetryConfig {
	return RetryConfig{
		MaxAttempts: maxAttempts,
		Delays:      delays,
		ShouldRetry: IsRateLimitOrOverload,
		Sleeper:     sleeper,
	}
}

// DoVal runs fn under cfg and returns its value. Context cancellation stops
// retries immediately; the last error is returned unchanged when attempts
// are exhausted.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = applyDefaults(cfg)

	var zero T
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		val, err := fn(ctx)
		if err == nil {
			return val, nil
		}
		lastErr = err

		if ctx.Err() != nil || !cfg.ShouldRetry(lastErr) {
			return zero, lastErr
		}
		if attempt >= cfg.MaxAttempts-1 {
			break
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, lastErr)
		}
		if err := cfg.Sleeper.Sleep(ctx, cfg.Delay(attempt)); err != nil {
			return zero, lastErr
		}
	}

	return zero, lastErr
}

// Delay returns the wait after the given zero-based failed attempt.
func (cfg RetryConfig) Delay(attempt int) time.Duration {
	if len(cfg.Delays) == 0 {
		return 0
	}
	return cfg.Delays[min(attempt, len(cfg.Delays)-1)]
}

func applyDefaults(cfg RetryConfig) RetryConfig {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = IsRateLimitOrOverload
	}
	if cfg.Sleeper == nil {
		cfg.Sleeper = TimerSleeper{}
	}
	return cfg
}

// RetryLogger returns an OnRetry callback that logs each retry attempt.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying operation",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.String("class", ClassOf(err).String()),
			zap.Error(err),
		)
	}
}
