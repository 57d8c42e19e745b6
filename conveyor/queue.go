package conveyor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AltaraLabs/mq/client"
	"github.com/AltaraLabs/mq/models"
)

// Item is a single queue message decoded into the queue's element type.
type Item[T any] struct {
	ID    uint64
	Value T
}

type Queue[T any] interface {
	Name() string

	Create(ctx context.Context) error
	Delete(ctx context.Context) error
	Exists(ctx context.Context) (bool, error)
	Count(ctx context.Context) (uint64, error)

	Push(ctx context.Context, value T) (uint64, error)
	Pop(ctx context.Context, n int) ([]Item[T], error)
	PopOne(ctx context.Context) (Item[T], bool, error)
	Peek(ctx context.Context, n int) ([]Item[T], error)

	Watch(ctx context.Context, handler EventHandler) error
}

type queueImpl[T any] struct {
	name   string
	client *client.Client
	logger *slog.Logger
}

func NewQueue[T any](name string, c *client.Client, logger *slog.Logger) Queue[T] {
	return &queueImpl[T]{
		name:   name,
		client: c,
		logger: logger.WithGroup("queue").With("queue", name),
	}
}

func (q *queueImpl[T]) Name() string {
	return q.name
}

func (q *queueImpl[T]) Create(ctx context.Context) error {
	err := client.WithRetriesVoid(ctx, q.logger, func() error {
		return q.client.CreateQueue(q.name)
	})

	return translateError(err)
}

func (q *queueImpl[T]) Delete(ctx context.Context) error {
	err := client.WithRetriesVoid(ctx, q.logger, func() error {
		return q.client.DeleteQueue(q.name)
	})

	return translateError(err)
}

func (q *queueImpl[T]) Exists(ctx context.Context) (bool, error) {
	exists, err := client.WithRetries(ctx, q.logger, func() (bool, error) {
		return q.client.Exists(q.name)
	})

	return exists, translateError(err)
}

func (q *queueImpl[T]) Count(ctx context.Context) (uint64, error) {
	count, err := client.WithRetries(ctx, q.logger, func() (uint64, error) {
		return q.client.Count(q.name)
	})

	return count, translateError(err)
}

// Push marshals the value and enqueues it. A retried push can deliver the
// message twice if an earlier attempt died after the server applied it;
// consumers have to tolerate that, the feed carries no acks.
func (q *queueImpl[T]) Push(ctx context.Context, value T) (uint64, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal value: %w", err)
	}

	id, err := client.WithRetries(ctx, q.logger, func() (uint64, error) {
		return q.client.Push(q.name, json.RawMessage(payload))
	})

	return id, translateError(err)
}

func (q *queueImpl[T]) Pop(ctx context.Context, n int) ([]Item[T], error) {
	messages, err := client.WithRetries(ctx, q.logger, func() ([]models.QueueMessage, error) {
		return q.client.Pop(q.name, n)
	})
	if err != nil {
		return nil, translateError(err)
	}

	items, err := decodeItems[T](messages)
	if err != nil {
		// The messages are already off the queue, so surface the raw
		// payloads before the caller loses sight of them.
		for _, msg := range messages {
			q.logger.Error("Popped message did not decode", "id", msg.ID, "payload", string(msg.Message))
		}
		return nil, err
	}

	return items, nil
}

func (q *queueImpl[T]) PopOne(ctx context.Context) (Item[T], bool, error) {
	items, err := q.Pop(ctx, 1)
	if err != nil {
		return Item[T]{}, false, err
	}
	if len(items) == 0 {
		return Item[T]{}, false, nil
	}
	return items[0], true, nil
}

func (q *queueImpl[T]) Peek(ctx context.Context, n int) ([]Item[T], error) {
	messages, err := client.WithRetries(ctx, q.logger, func() ([]models.QueueMessage, error) {
		return q.client.Peek(q.name, n)
	})
	if err != nil {
		return nil, translateError(err)
	}

	return decodeItems[T](messages)
}

func decodeItems[T any](messages []models.QueueMessage) ([]Item[T], error) {
	items := make([]Item[T], 0, len(messages))
	for _, msg := range messages {
		var value T
		if err := json.Unmarshal(msg.Message, &value); err != nil {
			return nil, fmt.Errorf("%w: message %d: %v", ErrDecode, msg.ID, err)
		}
		items = append(items, Item[T]{ID: msg.ID, Value: value})
	}
	return items, nil
}
