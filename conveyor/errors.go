package conveyor

import (
	"errors"
	"fmt"

	"github.com/AltaraLabs/mq/client"
)

var (
	ErrQueueNotFound   = errors.New("queue not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrPayloadTooLarge = errors.New("payload too large")
	ErrRateLimited     = errors.New("rate limited")
	ErrDecode          = errors.New("message does not decode into the queue's type")
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, client.ErrQueueNotFound) {
		return ErrQueueNotFound
	}
	if errors.Is(err, client.ErrInvalidArgument) {
		return ErrInvalidArgument
	}
	if errors.Is(err, client.ErrPayloadTooLarge) {
		return ErrPayloadTooLarge
	}

	var rateLimitErr *client.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return fmt.Errorf(
			"%w: %s. Try again in %v. (Limit: %g, Burst: %d)",
			ErrRateLimited,
			rateLimitErr.Message,
			rateLimitErr.RetryAfter,
			rateLimitErr.Limit,
			rateLimitErr.Burst,
		)
	}
	if errors.Is(err, client.ErrRateLimited) {
		return ErrRateLimited
	}

	return err
}
