package loom

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides whether a failed attempt should be retried. attempt
// is zero-based: ShouldRetry(0, err) is asked after the first failure.
type RetryPolicy interface {
	ShouldRetry(attempt int, err error) bool
}

// RetryConfig tunes the default backoff policy.
type RetryConfig struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFactor      float64
}

var DefaultRetryConfig = RetryConfig{
	MaxAttempts:       3,
	InitialBackoff:    100 * time.Millisecond,
	MaxBackoff:        10 * time.Second,
	BackoffMultiplier: 2.0,
	JitterFactor:      0.1,
}

// BackoffPolicy retries retryable error kinds up to MaxAttempts total
// attempts. AuthInvalid and configuration errors are never retried.
type BackoffPolicy struct {
	Config RetryConfig
}

func (p BackoffPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.Config.MaxAttempts-1 {
		return false
	}
	return KindOf(err).Retryable()
}

// WithRetry runs fn until it succeeds, the policy declines, or the context
// is done. Between attempts it sleeps with exponential backoff and jitter.
func WithRetry[T any](ctx context.Context, fn func(context.Context) (T, error), policy RetryPolicy, cfg RetryConfig) (T, error) {
	var result T
	var err error

	for attempt := 0; ; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if !policy.ShouldRetry(attempt, err) {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(calculateBackoff(attempt, cfg)):
		}
	}
}

func calculateBackoff(attempt int, cfg RetryConfig) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	jitter := (rand.Float64()*2 - 1) * cfg.JitterFactor * backoff
	return time.Duration(backoff + jitter)
}
