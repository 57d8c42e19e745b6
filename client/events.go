package client

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/AltaraLabs/mq/models"
	"github.com/gorilla/websocket"
)

// SubscribeToEvents connects to the event feed and invokes onEvent for every
// event emitted on the topic (a queue name). It blocks until the context is
// cancelled or the connection drops, and returns the reason.
func (c *Client) SubscribeToEvents(ctx context.Context, topic string, onEvent func(models.QueueEvent)) error {
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}

	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}

	wsURL := url.URL{
		Scheme: wsScheme,
		Host:   c.baseURL.Host,
		Path:   "/mq/api/v1/events",
	}
	query := wsURL.Query()
	query.Set("topic", topic)
	wsURL.RawQuery = query.Encode()

	c.logger.Debug("Connecting to WebSocket for event subscription", "url", wsURL.String())

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: c.skipVerify,
		},
	}

	conn, resp, err := dialer.Dial(wsURL.String(), nil)
	if err != nil {
		if resp != nil {
			c.logger.Error("WebSocket dial error with response", "url", wsURL.String(), "status", resp.Status, "error", err)
			return fmt.Errorf("failed to dial websocket %s (status: %s): %w", wsURL.String(), resp.Status, err)
		}
		c.logger.Error("WebSocket dial error", "url", wsURL.String(), "error", err)
		return fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), err)
	}
	defer conn.Close()

	conn.SetPongHandler(func(string) error {
		c.logger.Debug("Received pong from server")
		return nil
	})

	// A side goroutine keeps the connection alive and tears it down on
	// cancellation. Closing the connection is what unblocks the read loop
	// below, so cancellation takes effect even while no events arrive.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.logger.Debug("Sending ping to server")
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Error("Error sending ping", "error", err)
					return
				}
			case <-ctx.Done():
				c.logger.Debug("Context cancelled, closing WebSocket connection")
				if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")); err != nil {
					c.logger.Debug("Error sending close message during shutdown", "error", err)
				}
				conn.Close()
				return
			case <-stop:
				return
			}
		}
	}()

	c.logger.Debug("Connected to WebSocket, listening for events", "topic", topic)

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Error("Error reading message from WebSocket", "error", err)
			} else {
				c.logger.Debug("WebSocket connection closed", "error", err)
			}
			return err
		}

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			var event models.QueueEvent
			if err := json.Unmarshal(message, &event); err != nil {
				c.logger.Error("Failed to unmarshal event message", "error", err, "message", string(message))
				continue
			}
			if onEvent != nil {
				onEvent(event)
			}
		}
	}
}
