package models

import "time"

/*
	Notifications emitted when queues change. The topic of an event is the
	name of the queue it concerns. The feed is best-effort: a subscriber
	with a full buffer loses events. It is a side channel for watchers,
	not a delivery mechanism, and carries no acknowledgment semantics.
*/

const (
	QueueEventCreated = "created"
	QueueEventDeleted = "deleted"
	QueueEventPushed  = "pushed"
	QueueEventPopped  = "popped"
)

type QueueEvent struct {
	Event     string    `json:"event"`
	Queue     string    `json:"queue"`
	ID        uint64    `json:"id,omitempty"`      // id of the pushed message
	Removed   int       `json:"removed,omitempty"` // how many a pop removed
	EmittedAt time.Time `json:"emitted_at"`
}
