package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"gleaner/internal/services"
)

// run sends call with retries and decodes the JSON reply into target.
//
// Empty completions, timeouts, 408/429 and 5xx are retried up to the
// configured attempts, honoring Retry-After. Rejections fail at once marked
// ErrNonRetryable. Running out of attempts is marked ErrRetriesExhausted so
// workflow steps do not send the same call again.
func (c *Client) run(ctx context.Context, call promptCall, target any) error {
	if c.cfg.APIKey == "" {
		return fmt.Errorf("%s: %w: %w", call.op, services.ErrConfiguration, errMissingAPIKey)
	}
	payload, err := c.chatRequestFor(call)
	if err != nil {
		return err
	}

	attempts := max(c.retry.MaxAttempts, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.attempt(ctx, call.op, payload)
		if err == nil {
			if decodeErr := DecodeLLMJSON(content, target); decodeErr != nil {
				return fmt.Errorf("%s: parse payload: %w", call.op, decodeErr)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return err
		}
		if !retriedHere(err) {
			if !services.IsRetryable(err) {
				return fmt.Errorf("%s: %w: %w", call.op, services.ErrNonRetryable, err)
			}
			return fmt.Errorf("%s: %w", call.op, err)
		}
		if attempt == attempts {
			break
		}
		if err := c.sleep(ctx, c.delayAfter(err, attempt)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: failed after %d attempts: %w: %w: %w",
		call.op, attempts, services.ErrRetriesExhausted, services.ErrTransient, lastErr)
}

func (c *Client) attempt(ctx context.Context, op string, payload chatRequest) (string, error) {
	resp, body, err := c.post(ctx, payload)
	if err != nil {
		return "", err
	}
	if content := resp.content(); content != "" {
		return content, nil
	}
	return "", resp.emptyError(op, body)
}

// retriedHere reports whether the client itself retries err. Other
// retryable failures, such as a refused connection, are left to the caller.
func retriedHere(err error) bool {
	var empty *emptyContentError
	if errors.As(err, &empty) {
		return true
	}
	var status *httpStatusError
	if errors.As(err, &status) {
		return services.IsRetryable(status)
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// delayAfter prefers the provider's Retry-After, capped like backoff.
func (c *Client) delayAfter(cause error, attempt int) time.Duration {
	var status *httpStatusError
	if errors.As(cause, &status) && status.RetryAfter > 0 {
		if c.retry.MaxDelay > 0 {
			return min(status.RetryAfter, c.retry.MaxDelay)
		}
		return status.RetryAfter
	}
	return c.retry.Delay(attempt)
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.retry.Sleep != nil {
		return c.retry.Sleep(ctx, delay)
	}
	return services.SleepContext(ctx, delay)
}
