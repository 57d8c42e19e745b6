package client

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/AltaraLabs/mq/models"
)

// --- Queue Operations ---

// CreateQueue creates a queue on the server. Creating a queue that already
// exists is a no-op on the server side, so this never fails for "exists".
func (c *Client) CreateQueue(queue string) error {
	if queue == "" {
		return fmt.Errorf("queue cannot be empty for CreateQueue")
	}
	payload := models.QueueRequest{Queue: queue}
	return c.doRequest(http.MethodPost, "/mq/api/v1/queue/create", nil, payload, nil)
}

// DeleteQueue deletes a queue and all of its messages. Deleting a queue that
// does not exist is a no-op on the server side.
func (c *Client) DeleteQueue(queue string) error {
	if queue == "" {
		return fmt.Errorf("queue cannot be empty for DeleteQueue")
	}
	payload := models.QueueRequest{Queue: queue}
	return c.doRequest(http.MethodPost, "/mq/api/v1/queue/delete", nil, payload, nil)
}

// Exists reports whether the named queue exists on the server.
func (c *Client) Exists(queue string) (bool, error) {
	if queue == "" {
		return false, fmt.Errorf("queue cannot be empty for Exists")
	}
	params := map[string]string{"queue": queue}
	var response models.QueueExistsResponse
	if err := c.doRequest(http.MethodGet, "/mq/api/v1/queue/exists", params, nil, &response); err != nil {
		return false, err
	}
	return response.Exists, nil
}

// ListQueues returns the names of all queues, sorted ascending.
func (c *Client) ListQueues() ([]string, error) {
	var response models.QueueListResponse
	if err := c.doRequest(http.MethodGet, "/mq/api/v1/queue/list", nil, nil, &response); err != nil {
		return nil, err
	}
	return response.Queues, nil
}

// Push appends a message to the queue and returns the id the server assigned
// to it. The message may be any JSON-marshalable value; a json.RawMessage is
// sent as-is.
func (c *Client) Push(queue string, message any) (uint64, error) {
	if queue == "" {
		return 0, fmt.Errorf("queue cannot be empty for Push")
	}

	var raw json.RawMessage
	switch m := message.(type) {
	case json.RawMessage:
		raw = m
	default:
		var err error
		raw, err = json.Marshal(message)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal message for Push: %w", err)
		}
	}

	payload := models.QueuePushRequest{Queue: queue, Message: raw}
	var response models.QueuePushResponse
	if err := c.doRequest(http.MethodPost, "/mq/api/v1/queue/push", nil, payload, &response); err != nil {
		return 0, err
	}
	return response.ID, nil
}

// Pop removes and returns up to n of the oldest messages, oldest first.
// Fewer than n (including none) are returned when the queue runs short.
func (c *Client) Pop(queue string, n int) ([]models.QueueMessage, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue cannot be empty for Pop")
	}
	payload := models.QueuePopRequest{
		Queue: queue,
		N:     json.RawMessage(strconv.Itoa(n)),
	}
	var response models.QueueMessagesResponse
	if err := c.doRequest(http.MethodPost, "/mq/api/v1/queue/pop", nil, payload, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

// Peek returns up to n of the oldest messages without removing them.
func (c *Client) Peek(queue string, n int) ([]models.QueueMessage, error) {
	if queue == "" {
		return nil, fmt.Errorf("queue cannot be empty for Peek")
	}
	params := map[string]string{
		"queue": queue,
		"n":     strconv.Itoa(n),
	}
	var response models.QueueMessagesResponse
	if err := c.doRequest(http.MethodGet, "/mq/api/v1/queue/peek", params, nil, &response); err != nil {
		return nil, err
	}
	return response.Messages, nil
}

// Count returns the number of messages currently in the queue.
func (c *Client) Count(queue string) (uint64, error) {
	if queue == "" {
		return 0, fmt.Errorf("queue cannot be empty for Count")
	}
	params := map[string]string{"queue": queue}
	var response models.QueueCountResponse
	if err := c.doRequest(http.MethodGet, "/mq/api/v1/queue/count", params, nil, &response); err != nil {
		return 0, err
	}
	return response.Count, nil
}
