package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// StatusCoder is implemented by provider errors that carry an HTTP status.
type StatusCoder interface {
	HTTPStatusCode() int
}

// Provider error codes that indicate the request itself is unusable.
var nonRetryableMarkers = []string{
	"context_length_exceeded",
	"invalid_request_error",
}

// IsRetryable reports whether err is worth another attempt. Malformed or
// oversized requests, authentication failures, and failures a client already
// retried to its limit are never retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrNonRetryable) ||
		errors.Is(err, ErrRetriesExhausted) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range nonRetryableMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		switch code := coder.HTTPStatusCode(); {
		case code == http.StatusBadRequest,
			code == http.StatusUnauthorized,
			code == http.StatusForbidden,
			code == http.StatusUnprocessableEntity:
			return false
		case code == http.StatusRequestTimeout,
			code == http.StatusTooManyRequests,
			code >= http.StatusInternalServerError:
			return true
		case code >= http.StatusBadRequest:
			return false
		}
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return true
}

// RetryPolicy bounds exponential backoff for step-level retries.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Sleep overrides the wait between attempts (tests).
	Sleep func(ctx context.Context, delay time.Duration) error
}

// DefaultRetryPolicy returns the policy used for workflow steps.
func DefaultRetryPolicy(attempts int) RetryPolicy {
	if attempts <= 0 {
		attempts = 3
	}
	return RetryPolicy{MaxAttempts: attempts, BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// Delay returns the wait before the attempt following the given 1-based attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The returned error wraps the last failure.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context, attempt int) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	sleep := policy.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		if err := sleep(ctx, policy.Delay(attempt)); err != nil {
			return err
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// SleepContext waits for delay or until ctx is done.
func SleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
