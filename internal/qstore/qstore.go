package qstore

import (
	"context"
	"log/slog"
)

// DefaultQueue always exists once a store has been opened. It can be emptied
// and even deleted, but New recreates it on the next open.
const DefaultQueue = "default"

type Config struct {
	Logger    *slog.Logger
	Directory string
	AppCtx    context.Context
}

// Message is one queued entry. Payload holds the caller's bytes exactly as
// they were pushed.
type Message struct {
	ID      uint64
	Payload []byte
}

type QueueAdminHandler interface {
	Create(name string) (bool, error) // register a queue; no error if it already exists (reports whether it was new)
	Delete(name string) (bool, error) // drop a queue and its messages; no error if it doesn't exist (reports whether it was removed)
	Exists(name string) (bool, error)
	List() ([]string, error) // all queue names, ascending
}

type QueueDataHandler interface {
	Push(name string, payload []byte) (uint64, error) // append payload, return its id
	Pop(name string, n int) ([]Message, error)        // remove and return up to n oldest messages, oldest first
	Peek(name string, n int) ([]Message, error)       // same selection as Pop without removal
	Count(name string) (uint64, error)
}

// Store is the single owner of queue state. Message ids increase across every
// queue in the store, are never reused, and continue from the last used id
// when a store directory is reopened.
type Store interface {
	QueueAdminHandler
	QueueDataHandler

	Close() error
}
