package service

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AltaraLabs/mq/internal/events"
	"github.com/AltaraLabs/mq/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
)

// A session of someone connected wanting to receive events for one queue.
// Each session is its own subscriber on the event bus; delivered events are
// buffered on the send channel and the write pump drains it to the socket.
type eventSession struct {
	conn *websocket.Conn
	// The topic (queue name) this session is subscribed to.
	topic string
	// Buffered channel of outbound messages.
	send chan []byte
	// Service pointer to access logger, etc.
	service *Service
	// Detaches the session from the event bus. Set during registration.
	unsubscribe events.Unsubscriber
}

var _ events.TopicSubscriber = &eventSession{}

// OnEvent hands the event's payload to the write pump. It never blocks; when
// the session's buffer is full the event is dropped for that subscriber.
func (es *eventSession) OnEvent(ctx context.Context, event events.Event) {
	select {
	case es.send <- event.Data:
	default:
		es.service.logger.Warn("Subscriber send channel full, message dropped", "topic", es.topic, "remote_addr", es.conn.RemoteAddr())
	}
}

// publishQueueEvent emits a queue lifecycle event on the queue's own topic.
// Failures are logged and swallowed; the queue operation already succeeded
// and must not be failed retroactively by the event feed.
func (s *Service) publishQueueEvent(event models.QueueEvent) {
	event.EmittedAt = time.Now().UTC()

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to marshal queue event", "queue", event.Queue, "event", event.Event, "error", err)
		return
	}

	publisher, err := s.pubsub.GetPublisher(event.Queue)
	if err != nil {
		s.logger.Error("Failed to get event publisher", "queue", event.Queue, "error", err)
		return
	}

	if err := publisher.Publish(s.appCtx, event.Event, data); err != nil {
		s.logger.Debug("Queue event not published", "queue", event.Queue, "event", event.Event, "error", err)
	}
}

// eventSubscribeHandler handles WebSocket requests for event subscriptions.
func (s *Service) eventSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	topic := r.URL.Query().Get("topic")
	if topic == "" {
		s.logger.Warn("WebSocket connection attempt without topic")
		s.writeError(w, http.StatusBadRequest, "Missing topic parameter")
		return
	}

	s.eventSessionsLock.Lock()
	if len(s.eventSessions) >= s.cfg.Sessions.MaxConnections {
		s.eventSessionsLock.Unlock()
		s.logger.Warn("Max WebSocket connections reached, rejecting new connection", "current", len(s.eventSessions), "max", s.cfg.Sessions.MaxConnections)
		s.writeError(w, http.StatusServiceUnavailable, "Too many connections")
		return
	}
	// Incrementing happens in registerSubscriber after a successful upgrade.
	s.eventSessionsLock.Unlock()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err, "topic", topic)
		return
	}
	s.logger.Info("WebSocket connection upgraded", "remote_addr", conn.RemoteAddr().String(), "topic", topic)

	session := &eventSession{
		conn:    conn,
		topic:   topic,
		send:    make(chan []byte, s.cfg.Sessions.EventChannelSize),
		service: s,
	}

	s.registerSubscriber(session)

	// Launch goroutines for this session
	go session.writePump()
	go session.readPump()
}

func (s *Service) registerSubscriber(session *eventSession) {
	s.eventSessionsLock.Lock()
	defer s.eventSessionsLock.Unlock()

	if len(s.eventSessions) >= s.cfg.Sessions.MaxConnections {
		s.logger.Error("Attempted to register subscriber when max connections already met or exceeded", "active", len(s.eventSessions), "max", s.cfg.Sessions.MaxConnections)
		go session.conn.Close()
		return
	}

	unsubscribe, err := s.pubsub.Subscribe(session.topic, session)
	if err != nil {
		s.logger.Error("Could not subscribe session to event bus", "topic", session.topic, "error", err)
		go session.conn.Close()
		return
	}
	session.unsubscribe = unsubscribe

	s.eventSessions[session] = true
	s.logger.Info("Subscriber registered", "topic", session.topic, "remote_addr", session.conn.RemoteAddr().String(), "count", len(s.eventSessions))
}

func (s *Service) unregisterSubscriber(session *eventSession) {
	s.eventSessionsLock.Lock()
	defer s.eventSessionsLock.Unlock()

	if _, ok := s.eventSessions[session]; ok {
		delete(s.eventSessions, session)

		// Once unsubscribe returns the event bus will not deliver to this
		// session again, so closing the send channel below is safe.
		if session.unsubscribe != nil {
			session.unsubscribe()
		}

		s.logger.Info("Subscriber unregistered", "topic", session.topic, "remote_addr", session.conn.RemoteAddr().String(), "count", len(s.eventSessions))
	}

	close(session.send)
}

// readPump pumps messages from the WebSocket connection to the hub.
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (es *eventSession) readPump() {
	defer func() {
		es.service.unregisterSubscriber(es)
		es.conn.Close()
		es.service.logger.Info(
			"WebSocket readPump finished, connection closed and unregistered",
			"remote_addr", es.conn.RemoteAddr(),
			"topic", es.topic,
		)
	}()
	es.conn.SetReadLimit(maxMessageSize)
	es.conn.SetReadDeadline(time.Time{})

	es.conn.SetPongHandler(func(string) error {
		es.service.logger.Debug("WebSocket pong received", "remote_addr", es.conn.RemoteAddr())
		es.conn.SetReadDeadline(time.Time{})
		return nil
	})

	for {
		_, message, err := es.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				es.service.logger.Error(
					"WebSocket read error",
					"remote_addr", es.conn.RemoteAddr(),
					"topic", es.topic,
					"error", err,
				)
			} else {
				es.service.logger.Info(
					"WebSocket connection closed",
					"remote_addr", es.conn.RemoteAddr(),
					"topic", es.topic,
					"error", err,
				)
			}
			break
		}
		es.service.logger.Debug(
			"Received message from client on event WebSocket (typically ignored)",
			"remote_addr", es.conn.RemoteAddr(),
			"message_type", message)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (es *eventSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		es.conn.Close() // Ensure connection is closed if writePump exits
		es.service.logger.Info("WebSocket writePump finished", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic)
	}()
	for {
		select {
		case message, ok := <-es.send:
			es.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				es.service.logger.Info("WebSocket send channel closed by hub", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic)
				es.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := es.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				es.service.logger.Error("WebSocket NextWriter error", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic, "error", err)
				return
			}
			_, err = w.Write(message)
			if err != nil {
				es.service.logger.Error("WebSocket message write error", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic, "error", err)
				// Do not return here, try to close writer
			}

			if err := w.Close(); err != nil {
				es.service.logger.Error("WebSocket writer close error", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic, "error", err)
				return
			}
		case <-ticker.C:
			es.conn.SetWriteDeadline(time.Now().Add(writeWait))
			es.service.logger.Debug("WebSocket sending ping", "remote_addr", es.conn.RemoteAddr())
			if err := es.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				es.service.logger.Error("WebSocket ping write error", "remote_addr", es.conn.RemoteAddr(), "topic", es.topic, "error", err)
				return
			}
		case <-es.service.appCtx.Done():
			es.service.logger.Info("Service context done, closing WebSocket connection from writePump", "remote_addr", es.conn.RemoteAddr())
			return
		}
	}
}
