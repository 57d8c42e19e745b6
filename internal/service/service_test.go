package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AltaraLabs/mq/config"
	"github.com/AltaraLabs/mq/internal/events"
	"github.com/AltaraLabs/mq/internal/qstore"
	"github.com/AltaraLabs/mq/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Server {
	t.Helper()
	return &config.Server{
		Binding:               "127.0.0.1:0",
		MqdHome:               t.TempDir(),
		MaxMessagesPerRequest: 100,
		Logging:               config.Logging{Level: "error"},
		RateLimiters: config.RateLimiters{
			Queue:   config.RateLimiterConfig{Limit: 10000, Burst: 20000},
			System:  config.RateLimiterConfig{Limit: 10000, Burst: 20000},
			Events:  config.RateLimiterConfig{Limit: 10000, Burst: 20000},
			Default: config.RateLimiterConfig{Limit: 10000, Burst: 20000},
		},
		Sessions: config.SessionsConfig{
			EventChannelSize:         64,
			WebSocketReadBufferSize:  1024,
			WebSocketWriteBufferSize: 1024,
			MaxConnections:           8,
		},
	}
}

func newTestServer(t *testing.T, cfg *config.Server) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := qstore.New(qstore.Config{
		Logger:    logger,
		Directory: cfg.MqdHome,
		AppCtx:    context.Background(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := New(context.Background(), logger, cfg, store, events.NewPubSub())
	require.NoError(t, err)

	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doPost(t *testing.T, ts *httptest.Server, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}

	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func doGet(t *testing.T, ts *httptest.Server, path string) (*http.Response, []byte) {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorMessage(t *testing.T, data []byte) string {
	t.Helper()
	var er models.ErrorResponse
	require.NoError(t, json.Unmarshal(data, &er), "error body should be JSON: %s", string(data))
	return er.Error
}

func TestService_OrdersScenario(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, _ := doPost(t, ts, "/mq/api/v1/queue/create", models.QueueRequest{Queue: "orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"orders","message":{"item":"A"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pushResp models.QueuePushResponse
	require.NoError(t, json.Unmarshal(data, &pushResp))
	assert.Equal(t, uint64(1), pushResp.ID)

	resp, data = doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"orders","message":{"item":"B"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &pushResp))
	assert.Equal(t, uint64(2), pushResp.ID)

	resp, data = doGet(t, ts, "/mq/api/v1/queue/count?queue=orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var countResp models.QueueCountResponse
	require.NoError(t, json.Unmarshal(data, &countResp))
	assert.Equal(t, uint64(2), countResp.Count)

	resp, data = doPost(t, ts, "/mq/api/v1/queue/pop", `{"queue":"orders","n":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var popResp models.QueueMessagesResponse
	require.NoError(t, json.Unmarshal(data, &popResp))
	require.Len(t, popResp.Messages, 1)
	assert.Equal(t, uint64(1), popResp.Messages[0].ID)
	assert.JSONEq(t, `{"item":"A"}`, string(popResp.Messages[0].Message))

	resp, data = doGet(t, ts, "/mq/api/v1/queue/count?queue=orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &countResp))
	assert.Equal(t, uint64(1), countResp.Count)

	resp, _ = doPost(t, ts, "/mq/api/v1/queue/delete", models.QueueRequest{Queue: "orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data = doGet(t, ts, "/mq/api/v1/queue/count?queue=orders")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "no such queue: 'orders'", errorMessage(t, data))
}

func TestService_DefaultQueuePresent(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, data := doGet(t, ts, "/mq/api/v1/queue/exists?queue=default")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var existsResp models.QueueExistsResponse
	require.NoError(t, json.Unmarshal(data, &existsResp))
	assert.True(t, existsResp.Exists)

	// The pre-created queue is usable without an explicit create.
	resp, _ = doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"default","message":"hello"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestService_CreateDeleteIdempotent(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	for i := 0; i < 2; i++ {
		resp, data := doPost(t, ts, "/mq/api/v1/queue/create", models.QueueRequest{Queue: "jobs"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{}`, string(data))
	}

	resp, data := doGet(t, ts, "/mq/api/v1/queue/exists?queue=jobs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var existsResp models.QueueExistsResponse
	require.NoError(t, json.Unmarshal(data, &existsResp))
	assert.True(t, existsResp.Exists)

	for i := 0; i < 2; i++ {
		resp, data := doPost(t, ts, "/mq/api/v1/queue/delete", models.QueueRequest{Queue: "jobs"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.JSONEq(t, `{}`, string(data))
	}

	resp, data = doGet(t, ts, "/mq/api/v1/queue/exists?queue=jobs")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &existsResp))
	assert.False(t, existsResp.Exists)
}

func TestService_ListSorted(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	for _, name := range []string{"zeta", "alpha", "mid"} {
		resp, _ := doPost(t, ts, "/mq/api/v1/queue/create", models.QueueRequest{Queue: name})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, data := doGet(t, ts, "/mq/api/v1/queue/list")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listResp models.QueueListResponse
	require.NoError(t, json.Unmarshal(data, &listResp))
	assert.Equal(t, []string{"alpha", "default", "mid", "zeta"}, listResp.Queues)
}

func TestService_PopValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	cases := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{
			name:    "non integer string",
			body:    `{"queue":"default","n":"abc"}`,
			status:  http.StatusBadRequest,
			message: "n must be an integer number",
		},
		{
			name:    "float",
			body:    `{"queue":"default","n":2.5}`,
			status:  http.StatusBadRequest,
			message: "n must be an integer number",
		},
		{
			name:    "negative",
			body:    `{"queue":"default","n":-1}`,
			status:  http.StatusBadRequest,
			message: "n must be positive",
		},
		{
			name:    "over maximum",
			body:    `{"queue":"default","n":101}`,
			status:  http.StatusBadRequest,
			message: "n must be at most 100",
		},
		{
			name:    "missing queue",
			body:    `{"n":1}`,
			status:  http.StatusBadRequest,
			message: "Missing queue in pop request payload",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := doPost(t, ts, "/mq/api/v1/queue/pop", tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.message, errorMessage(t, data))
		})
	}

	// Zero is a valid request for nothing.
	resp, data := doPost(t, ts, "/mq/api/v1/queue/pop", `{"queue":"default","n":0}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var popResp models.QueueMessagesResponse
	require.NoError(t, json.Unmarshal(data, &popResp))
	assert.Empty(t, popResp.Messages)
	assert.Contains(t, string(data), `"messages":[]`)
}

func TestService_PeekValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	cases := []struct {
		name    string
		query   string
		status  int
		message string
	}{
		{
			name:    "non integer",
			query:   "queue=default&n=abc",
			status:  http.StatusBadRequest,
			message: "n must be an integer number",
		},
		{
			name:    "negative",
			query:   "queue=default&n=-3",
			status:  http.StatusBadRequest,
			message: "n must be positive",
		},
		{
			name:    "over maximum",
			query:   "queue=default&n=500",
			status:  http.StatusBadRequest,
			message: "n must be at most 100",
		},
		{
			name:    "missing queue",
			query:   "n=1",
			status:  http.StatusBadRequest,
			message: "Missing queue parameter",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := doGet(t, ts, "/mq/api/v1/queue/peek?"+tc.query)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, tc.message, errorMessage(t, data))
		})
	}
}

func TestService_PeekDoesNotRemove(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	for i := 0; i < 3; i++ {
		resp, _ := doPost(t, ts, "/mq/api/v1/queue/push", fmt.Sprintf(`{"queue":"default","message":{"seq":%d}}`, i))
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	var first models.QueueMessagesResponse
	resp, data := doGet(t, ts, "/mq/api/v1/queue/peek?queue=default&n=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &first))
	require.Len(t, first.Messages, 2)

	var second models.QueueMessagesResponse
	resp, data = doGet(t, ts, "/mq/api/v1/queue/peek?queue=default&n=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(data, &second))
	assert.Equal(t, first, second)

	resp, data = doGet(t, ts, "/mq/api/v1/queue/count?queue=default")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var countResp models.QueueCountResponse
	require.NoError(t, json.Unmarshal(data, &countResp))
	assert.Equal(t, uint64(3), countResp.Count)
}

func TestService_PushValidation(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, data := doPost(t, ts, "/mq/api/v1/queue/push", `{"message":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing queue in push request payload", errorMessage(t, data))

	resp, data = doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"default"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing message in push request payload", errorMessage(t, data))

	resp, data = doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"default","message":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errorMessage(t, data), "Invalid JSON payload")
}

func TestService_PushPayloadTooLarge(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	big := strings.Repeat("x", maxPayloadBytes+1)
	resp, data := doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"default","message":"`+big+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, "Message payload is too large", errorMessage(t, data))
}

func TestService_UnknownQueue(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	checks := []struct {
		name string
		call func() (*http.Response, []byte)
	}{
		{"push", func() (*http.Response, []byte) {
			return doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"ghost","message":1}`)
		}},
		{"pop", func() (*http.Response, []byte) {
			return doPost(t, ts, "/mq/api/v1/queue/pop", `{"queue":"ghost"}`)
		}},
		{"peek", func() (*http.Response, []byte) {
			return doGet(t, ts, "/mq/api/v1/queue/peek?queue=ghost")
		}},
		{"count", func() (*http.Response, []byte) {
			return doGet(t, ts, "/mq/api/v1/queue/count?queue=ghost")
		}},
	}

	for _, tc := range checks {
		t.Run(tc.name, func(t *testing.T) {
			resp, data := tc.call()
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.Equal(t, "no such queue: 'ghost'", errorMessage(t, data))
		})
	}

	resp, data := doGet(t, ts, "/mq/api/v1/queue/exists?queue=ghost")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var existsResp models.QueueExistsResponse
	require.NoError(t, json.Unmarshal(data, &existsResp))
	assert.False(t, existsResp.Exists)
}

func TestService_MethodGuards(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, _ := doGet(t, ts, "/mq/api/v1/queue/push")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = doPost(t, ts, "/mq/api/v1/queue/peek", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = doPost(t, ts, "/mq/api/v1/ping", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestService_Ping(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, data := doGet(t, ts, "/mq/api/v1/ping")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var pingResp models.PingResponse
	require.NoError(t, json.Unmarshal(data, &pingResp))
	assert.Equal(t, "ok", pingResp.Status)
	assert.NotEmpty(t, pingResp.Uptime)
}

func TestService_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimiters.Queue = config.RateLimiterConfig{Limit: 1, Burst: 1}
	ts := newTestServer(t, cfg)

	// First request takes the only token, the second must be pushed back.
	resp, _ := doGet(t, ts, "/mq/api/v1/queue/list")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := doGet(t, ts, "/mq/api/v1/queue/list")
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "rate limit exceeded", errorMessage(t, data))
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestService_EventsFeed(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/mq/api/v1/events?topic=orders"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server a moment to finish registering the subscription.
	time.Sleep(100 * time.Millisecond)

	resp, _ := doPost(t, ts, "/mq/api/v1/queue/create", models.QueueRequest{Queue: "orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doPost(t, ts, "/mq/api/v1/queue/push", `{"queue":"orders","message":{"item":"A"}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doPost(t, ts, "/mq/api/v1/queue/pop", `{"queue":"orders","n":1}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doPost(t, ts, "/mq/api/v1/queue/delete", models.QueueRequest{Queue: "orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	readEvent := func() models.QueueEvent {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var ev models.QueueEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		return ev
	}

	ev := readEvent()
	assert.Equal(t, models.QueueEventCreated, ev.Event)
	assert.Equal(t, "orders", ev.Queue)

	ev = readEvent()
	assert.Equal(t, models.QueueEventPushed, ev.Event)
	assert.Equal(t, uint64(1), ev.ID)

	ev = readEvent()
	assert.Equal(t, models.QueueEventPopped, ev.Event)
	assert.Equal(t, 1, ev.Removed)

	ev = readEvent()
	assert.Equal(t, models.QueueEventDeleted, ev.Event)
	assert.Equal(t, "orders", ev.Queue)
}

func TestService_EventsRequireTopic(t *testing.T) {
	ts := newTestServer(t, testConfig(t))

	resp, data := doGet(t, ts, "/mq/api/v1/events")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing topic parameter", errorMessage(t, data))
}
