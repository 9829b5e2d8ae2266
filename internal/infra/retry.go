package infra

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// BackoffFunc returns the wait after the given failed attempt (1-based).
type BackoffFunc func(attempt int) time.Duration

// Fixed waits the same duration after every attempt.
func Fixed(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// Exponential grows the wait by multiplier per attempt, capped at max, with
// ±jitter fraction applied when rng is non-nil.
func Exponential(initial, max time.Duration, multiplier, jitter float64, rng *Rand) BackoffFunc {
	return func(attempt int) time.Duration {
		backoff := float64(initial) * math.Pow(multiplier, float64(attempt-1))
		if max > 0 && backoff > float64(max) {
			backoff = float64(max)
		}
		if rng != nil && jitter > 0 {
			backoff += backoff * jitter * (rng.Float64()*2 - 1)
		}
		if backoff < 0 {
			backoff = float64(initial)
		}
		return time.Duration(backoff)
	}
}

// LinearJitter waits uniform(min, max) scaled by the attempt number.
func LinearJitter(min, max time.Duration, rng *Rand) BackoffFunc {
	return func(attempt int) time.Duration {
		return rng.Between(min, max) * time.Duration(attempt)
	}
}

// RetryPolicy bounds an operation to MaxAttempts tries.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     BackoffFunc
	// RetryableStatusCodes lists HTTP statuses worth retrying; other 4xx
	// responses fail immediately.
	RetryableStatusCodes []int
	// RetryAllStatuses retries every HTTP error status.
	RetryAllStatuses bool
}

// NewRetryPolicy returns a policy retrying timeouts, throttling and 5xx.
// Throttling includes 403, which the report sites answer when pacing is
// too aggressive.
func NewRetryPolicy(attempts int, backoff BackoffFunc) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     backoff,
		RetryableStatusCodes: []int{
			http.StatusForbidden,
			http.StatusRequestTimeout,
			http.StatusTooManyRequests,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// ShouldRetry classifies an attempt error.
func (p *RetryPolicy) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}

	var httpErr *ErrHTTP
	if errors.As(err, &httpErr) {
		if p.RetryAllStatuses {
			return true
		}
		for _, code := range p.RetryableStatusCodes {
			if httpErr.StatusCode == code {
				return true
			}
		}
		return httpErr.StatusCode >= 500
	}
	return true
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are exhausted. The last error is returned unwrapped from any
// Permanent marker.
func (p *RetryPolicy) Do(ctx context.Context, logger *zap.Logger, op string, fn func(attempt int) error) error {
	attempts := max(p.MaxAttempts, 1)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !p.ShouldRetry(lastErr) {
			logger.Debug("non-retryable error",
				zap.String("op", op), zap.Int("attempt", attempt), zap.Error(lastErr))
			return unwrapPermanent(lastErr)
		}
		if attempt == attempts {
			break
		}

		var wait time.Duration
		if p.Backoff != nil {
			wait = p.Backoff(attempt)
		}
		logger.Warn("attempt failed, retrying",
			zap.String("op", op), zap.Int("attempt", attempt),
			zap.Duration("backoff", wait), zap.Error(lastErr))

		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}

	logger.Warn("all retry attempts exhausted",
		zap.String("op", op), zap.Int("max_attempts", attempts), zap.Error(lastErr))
	return lastErr
}

func unwrapPermanent(err error) error {
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}
