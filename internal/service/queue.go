package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/AltaraLabs/mq/internal/qstore"
	"github.com/AltaraLabs/mq/models"
)

// Badger holds keys and values below 1MB, so a single message payload is
// capped just under that.
const maxPayloadBytes = 1024 * 1024

// The requested message count arrives either as a raw JSON field (pop) or a
// query parameter (peek). Validation is centralized here so the store's
// contract stays a plain "return up to n".

func parseMessageCount(raw json.RawMessage, max int) (int, error) {
	if len(raw) == 0 {
		// Absent means one. An explicit zero is valid and stays zero.
		return 1, nil
	}
	var n int
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errors.New("n must be an integer number")
	}
	return checkMessageCount(n, max)
}

func parseMessageCountParam(v string, max int) (int, error) {
	if v == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("n must be an integer number")
	}
	return checkMessageCount(n, max)
}

func checkMessageCount(n int, max int) (int, error) {
	if n < 0 {
		return 0, errors.New("n must be positive")
	}
	if n > max {
		return 0, fmt.Errorf("n must be at most %d", max)
	}
	return n, nil
}

func messagesToResponse(msgs []qstore.Message) models.QueueMessagesResponse {
	out := make([]models.QueueMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, models.QueueMessage{
			ID:      m.ID,
			Message: json.RawMessage(m.Payload),
		})
	}
	return models.QueueMessagesResponse{Messages: out}
}

// -- WRITE OPERATIONS --

func (s *Service) queueCreateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Could not read body for queue create request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req models.QueueRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		s.logger.Error("Invalid JSON payload for queue create request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	if req.Queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue in create request payload")
		return
	}

	created, err := s.store.Create(req.Queue)
	if err != nil {
		s.logger.Error("Could not create queue", "queue", req.Queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	// Creating a queue that already exists is a no-op, so only a real
	// transition emits an event.
	if created {
		s.publishQueueEvent(models.QueueEvent{
			Event: models.QueueEventCreated,
			Queue: req.Queue,
		})
	}

	s.writeJSON(w, http.StatusOK, models.AckResponse{})
}

func (s *Service) queueDeleteHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Could not read body for queue delete request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req models.QueueRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		s.logger.Error("Invalid JSON payload for queue delete request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	if req.Queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue in delete request payload")
		return
	}

	deleted, err := s.store.Delete(req.Queue)
	if err != nil {
		s.logger.Error("Could not delete queue", "queue", req.Queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if deleted {
		s.publishQueueEvent(models.QueueEvent{
			Event: models.QueueEventDeleted,
			Queue: req.Queue,
		})
	}

	s.writeJSON(w, http.StatusOK, models.AckResponse{})
}

func (s *Service) queuePushHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxPayloadBytes)
	defer r.Body.Close()

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "Message payload is too large")
			return
		}
		s.logger.Error("Could not read body for queue push request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req models.QueuePushRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		s.logger.Error("Invalid JSON payload for queue push request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	if req.Queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue in push request payload")
		return
	}
	if len(req.Message) == 0 {
		s.writeError(w, http.StatusBadRequest, "Missing message in push request payload")
		return
	}

	id, err := s.store.Push(req.Queue, req.Message)
	if err != nil {
		var qnfErr *qstore.ErrQueueNotFound
		if errors.As(err, &qnfErr) {
			s.logger.Warn("Push failed because queue does not exist", "queue", req.Queue, "error", err)
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Could not push message", "queue", req.Queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.publishQueueEvent(models.QueueEvent{
		Event: models.QueueEventPushed,
		Queue: req.Queue,
		ID:    id,
	})

	s.writeJSON(w, http.StatusOK, models.QueuePushResponse{ID: id})
}

func (s *Service) queuePopHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	defer r.Body.Close()
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error("Could not read body for queue pop request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	var req models.QueuePopRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		s.logger.Error("Invalid JSON payload for queue pop request", "error", err)
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload: "+err.Error())
		return
	}

	if req.Queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue in pop request payload")
		return
	}

	n, err := parseMessageCount(req.N, s.cfg.MaxMessagesPerRequest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.store.Pop(req.Queue, n)
	if err != nil {
		var qnfErr *qstore.ErrQueueNotFound
		if errors.As(err, &qnfErr) {
			s.logger.Warn("Pop failed because queue does not exist", "queue", req.Queue, "error", err)
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Could not pop messages", "queue", req.Queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	if len(msgs) > 0 {
		s.publishQueueEvent(models.QueueEvent{
			Event:   models.QueueEventPopped,
			Queue:   req.Queue,
			Removed: len(msgs),
		})
	}

	s.writeJSON(w, http.StatusOK, messagesToResponse(msgs))
}

// -- READ OPERATIONS --

func (s *Service) queuePeekHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	queue := r.URL.Query().Get("queue")
	if queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue parameter")
		return
	}

	n, err := parseMessageCountParam(r.URL.Query().Get("n"), s.cfg.MaxMessagesPerRequest)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msgs, err := s.store.Peek(queue, n)
	if err != nil {
		var qnfErr *qstore.ErrQueueNotFound
		if errors.As(err, &qnfErr) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Could not peek messages", "queue", queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.writeJSON(w, http.StatusOK, messagesToResponse(msgs))
}

func (s *Service) queueCountHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	queue := r.URL.Query().Get("queue")
	if queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue parameter")
		return
	}

	count, err := s.store.Count(queue)
	if err != nil {
		var qnfErr *qstore.ErrQueueNotFound
		if errors.As(err, &qnfErr) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("Could not count messages", "queue", queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.writeJSON(w, http.StatusOK, models.QueueCountResponse{Count: count})
}

func (s *Service) queueExistsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	queue := r.URL.Query().Get("queue")
	if queue == "" {
		s.writeError(w, http.StatusBadRequest, "Missing queue parameter")
		return
	}

	exists, err := s.store.Exists(queue)
	if err != nil {
		s.logger.Error("Could not check queue existence", "queue", queue, "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.writeJSON(w, http.StatusOK, models.QueueExistsResponse{Exists: exists})
}

func (s *Service) queueListHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	queues, err := s.store.List()
	if err != nil {
		s.logger.Error("Could not list queues", "error", err)
		s.writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
		return
	}

	s.writeJSON(w, http.StatusOK, models.QueueListResponse{Queues: queues})
}
