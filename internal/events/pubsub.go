package events

import (
	"context"
	"sync"
	"time"
)

// Event is one queue notification. Topic is the queue name the event
// concerns; Data is the JSON body handed to subscribers verbatim.
type Event struct {
	EventID   string
	Topic     string
	Kind      string
	EmittedAt time.Time
	Data      []byte
}

type TopicPublisher interface {
	// Publish is handed a context that should be respected by the fanout;
	// if the context is cancelled the event should not be delivered.
	Publish(ctx context.Context, kind string, data []byte) error
}

// TopicSubscriber is the interface used to receive events from a topic.
// When returned from the PubSub.Subscribe method it is the responsibility of
// the caller to call the Unsubscriber function to unsubscribe from the topic.
type TopicSubscriber interface {
	OnEvent(ctx context.Context, event Event)
}

// Call to unsubscribe from a topic
type Unsubscriber func()

type PubSub interface {
	GetPublisher(topic string) (TopicPublisher, error)
	Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error)
}

func NewPubSub() PubSub {
	return &pubSubImpl{
		subscribers:      make(map[string][]TopicSubscriber),
		subscribersMutex: sync.RWMutex{},
	}
}
