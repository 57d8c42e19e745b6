package conveyor

import (
	"context"
	"fmt"

	"github.com/AltaraLabs/mq/models"
)

type EventHandler func(event models.QueueEvent)

// Watch streams the queue's lifecycle events to the handler until the
// context is canceled or the feed drops. It does not retry; reconnect
// policy belongs to the caller.
func (q *queueImpl[T]) Watch(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	err := q.client.SubscribeToEvents(ctx, q.name, func(event models.QueueEvent) {
		handler(event)
	})

	return translateError(err)
}
