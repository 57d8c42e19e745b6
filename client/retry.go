package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultRetryAttempts = 5
	defaultRetryBackoff  = 250 * time.Millisecond
	maxRetryBackoff      = 5 * time.Second
)

// WithRetries runs op until it succeeds, the context ends, or the attempts
// run out. Errors the server will keep giving the same answer for, like a
// missing queue or a rejected argument, are returned immediately. Rate
// limited responses wait out the server's Retry-After hint instead of the
// normal backoff.
func WithRetries[T any](ctx context.Context, logger *slog.Logger, op func() (T, error)) (T, error) {
	var zero T

	backoff := defaultRetryBackoff
	var lastErr error

	for attempt := 0; attempt < defaultRetryAttempts; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return zero, err
		}

		wait := backoff
		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) && rateLimitErr.RetryAfter > 0 {
			wait = rateLimitErr.RetryAfter
		}

		logger.Warn("Retrying request", "attempt", attempt+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}

		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}

	return zero, fmt.Errorf("retries exhausted: %w", lastErr)
}

// WithRetriesVoid is WithRetries for operations with no result.
func WithRetriesVoid(ctx context.Context, logger *slog.Logger, op func() error) error {
	_, err := WithRetries(ctx, logger, func() (struct{}, error) {
		return struct{}{}, op()
	})
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrQueueNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrPayloadTooLarge) {
		return false
	}
	return true
}
