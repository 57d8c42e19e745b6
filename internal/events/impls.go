package events

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// The actual implementation of the TopicPublisher interface that is handed
// to a caller who wants to emit events for a topic. Publishers are cheap and
// carry no state besides the topic they are bound to, so callers can hold on
// to one for as long as they like.
type topicPublisherImpl struct {
	topic string
	ps    *pubSubImpl
}

func (tp *topicPublisherImpl) Publish(ctx context.Context, kind string, data []byte) error {
	return tp.ps.dispatch(ctx, Event{
		EventID:   uuid.NewString(),
		Topic:     tp.topic,
		Kind:      kind,
		EmittedAt: time.Now(),
		Data:      data,
	})
}

// The actual implementation of the PubSub interface. Topics are queue names
// and exist implicitly; subscribing to a queue that has no activity yet is
// fine, the subscriber just waits.
type pubSubImpl struct {
	subscribers      map[string][]TopicSubscriber
	subscribersMutex sync.RWMutex
}

func (ps *pubSubImpl) GetPublisher(topic string) (TopicPublisher, error) {
	return &topicPublisherImpl{
		topic: topic,
		ps:    ps,
	}, nil
}

func (ps *pubSubImpl) Subscribe(topic string, subscriber TopicSubscriber) (Unsubscriber, error) {
	ps.subscribersMutex.Lock()
	defer ps.subscribersMutex.Unlock()

	ps.subscribers[topic] = append(ps.subscribers[topic], subscriber)

	// Return a function to unsubscribe from the topic that captures the mutex
	// so it can be done safely and at any time from the subscriber owner
	return func() {
		ps.subscribersMutex.Lock()
		defer ps.subscribersMutex.Unlock()

		ps.subscribers[topic] = slices.DeleteFunc(ps.subscribers[topic], func(s TopicSubscriber) bool {
			return s == subscriber
		})
	}, nil
}

// dispatch fans an event out to the topic's current subscribers. Subscribers
// are expected to hand the event off quickly (buffered channel, dropped when
// full). Delivery happens under the read lock, so once an Unsubscriber
// returns the subscriber will not see another OnEvent. For the same reason
// OnEvent must not call back into Subscribe or an Unsubscriber.
func (ps *pubSubImpl) dispatch(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ps.subscribersMutex.RLock()
	defer ps.subscribersMutex.RUnlock()

	for _, sub := range ps.subscribers[event.Topic] {
		sub.OnEvent(ctx, event)
	}
	return nil
}
