package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AltaraLabs/mq/config"
	"github.com/AltaraLabs/mq/internal/events"
	"github.com/AltaraLabs/mq/internal/qstore"
	"github.com/AltaraLabs/mq/internal/service"
	"github.com/AltaraLabs/mq/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := &config.Server{
		Binding:               "127.0.0.1:0",
		MqdHome:               t.TempDir(),
		MaxMessagesPerRequest: 100,
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

	store, err := qstore.New(qstore.Config{
		Logger:    logger,
		Directory: cfg.MqdHome,
		AppCtx:    context.Background(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := service.New(context.Background(), logger, cfg, store, events.NewPubSub())
	require.NoError(t, err)

	ts := httptest.NewServer(svc.Handler())
	t.Cleanup(ts.Close)

	c, err := NewClient(&Config{
		HostPort: strings.TrimPrefix(ts.URL, "http://"),
		Logger:   logger,
	})
	require.NoError(t, err)
	return c
}

func TestClient_QueueLifecycle(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.CreateQueue("jobs"))

	exists, err := c.Exists("jobs")
	require.NoError(t, err)
	assert.True(t, exists)

	id1, err := c.Push("jobs", map[string]string{"task": "build"})
	require.NoError(t, err)
	id2, err := c.Push("jobs", map[string]string{"task": "test"})
	require.NoError(t, err)
	assert.Greater(t, id2, id1)

	count, err := c.Count("jobs")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	peeked, err := c.Peek("jobs", 10)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, id1, peeked[0].ID)
	assert.Equal(t, id2, peeked[1].ID)

	popped, err := c.Pop("jobs", 1)
	require.NoError(t, err)
	require.Len(t, popped, 1)
	assert.Equal(t, id1, popped[0].ID)
	assert.JSONEq(t, `{"task":"build"}`, string(popped[0].Message))

	count, err = c.Count("jobs")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	require.NoError(t, c.DeleteQueue("jobs"))

	exists, err = c.Exists("jobs")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = c.Count("jobs")
	assert.ErrorIs(t, err, ErrQueueNotFound)
	assert.Contains(t, err.Error(), "no such queue: 'jobs'")
}

func TestClient_ListQueues(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.CreateQueue("beta"))
	require.NoError(t, c.CreateQueue("alpha"))

	queues, err := c.ListQueues()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "default"}, queues)
}

func TestClient_RawMessagePassthrough(t *testing.T) {
	c := newTestClient(t)

	raw := json.RawMessage(`{"nested":{"values":[1,2,3]},"flag":true}`)
	_, err := c.Push("default", raw)
	require.NoError(t, err)

	msgs, err := c.Pop("default", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, string(raw), string(msgs[0].Message))
}

func TestClient_ErrorMapping(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Pop("ghost", 1)
	assert.ErrorIs(t, err, ErrQueueNotFound)

	_, err = c.Pop("default", -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "n must be positive")

	_, err = c.Pop("default", 101)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Contains(t, err.Error(), "n must be at most 100")

	_, err = c.Peek("default", 101)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t)

	resp, err := c.Ping()
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Uptime)
}

func TestClient_SubscribeToEvents(t *testing.T) {
	c := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan models.QueueEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- c.SubscribeToEvents(ctx, "default", func(ev models.QueueEvent) {
			received <- ev
		})
	}()

	// Give the subscription a moment to establish before producing events.
	time.Sleep(200 * time.Millisecond)

	id, err := c.Push("default", "hello")
	require.NoError(t, err)

	select {
	case ev := <-received:
		assert.Equal(t, models.QueueEventPushed, ev.Event)
		assert.Equal(t, "default", ev.Queue)
		assert.Equal(t, id, ev.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for subscription to end")
	}
}
