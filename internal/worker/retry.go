package worker

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"

	"github.com/JakeFAU/catalog-ingest/internal/catalog"
)

// RetryPolicy decides whether a failed task is resubmitted and when.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy retries persistence failures with jittered
// exponential backoff. Upstream and data-shape errors are final.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. Non-positive values fall back to defaults.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	return &ExponentialRetryPolicy{maxAttempts: maxAttempts, baseDelay: baseDelay, maxDelay: maxDelay}
}

// ShouldRetry decides whether the error is retryable.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return catalog.IsPersistence(err)
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// LinearRetryPolicy retries upstream and persistence failures with a delay
// growing by Step on every attempt.
type LinearRetryPolicy struct {
	Step        time.Duration
	MaxAttempts int
}

// NewLinearRetryPolicy builds a policy. Non-positive values fall back to 15s and 3 attempts.
func NewLinearRetryPolicy(step time.Duration, maxAttempts int) *LinearRetryPolicy {
	if step <= 0 {
		step = 15 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &LinearRetryPolicy{Step: step, MaxAttempts: maxAttempts}
}

// ShouldRetry decides whether the error is retryable.
func (p *LinearRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, catalog.ErrNoCredentials) {
		return false
	}
	return catalog.IsUpstream(err) || catalog.IsPersistence(err)
}

// Backoff returns Step*(attempt+1).
func (p *LinearRetryPolicy) Backoff(attempt int) time.Duration {
	return p.Step * time.Duration(attempt+1)
}

// NoRetry drops every failure. Used for fire-and-forget side effects.
type NoRetry struct{}

// ShouldRetry always reports false.
func (NoRetry) ShouldRetry(error, int) bool { return false }

// Backoff is never consulted.
func (NoRetry) Backoff(int) time.Duration { return 0 }
