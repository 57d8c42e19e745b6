package models

import "encoding/json"

/*
	Payloads for the queue operations. Queues are addressed by name; message
	bodies are opaque JSON values that are stored and returned byte for byte,
	so they are carried as raw JSON rather than decoded structures.
*/

type QueueRequest struct {
	Queue string `json:"queue"`
}

type QueuePushRequest struct {
	Queue   string          `json:"queue"`
	Message json.RawMessage `json:"message"`
}

type QueuePushResponse struct {
	ID uint64 `json:"id"`
}

// QueuePopRequest asks for up to N of the oldest messages. N is carried raw
// so the server can tell an absent field (defaults to 1) from a present but
// non-integer value, which must be rejected with a precise message.
type QueuePopRequest struct {
	Queue string          `json:"queue"`
	N     json.RawMessage `json:"n,omitempty"`
}

type QueueMessage struct {
	ID      uint64          `json:"id"`
	Message json.RawMessage `json:"message"`
}

type QueueMessagesResponse struct {
	Messages []QueueMessage `json:"messages"`
}

type QueueCountResponse struct {
	Count uint64 `json:"count"`
}

type QueueExistsResponse struct {
	Exists bool `json:"exists"`
}

type QueueListResponse struct {
	Queues []string `json:"queues"`
}

// AckResponse is the empty acknowledgment returned by create and delete.
type AckResponse struct{}

// ErrorResponse is the shape of every error body the service writes.
type ErrorResponse struct {
	Error string `json:"error"`
}

type PingResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}
