package conveyor

import (
	"context"
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

type job struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

func newTestConveyor(t *testing.T) *Conveyor {
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

	cv, err := New(logger, &Config{
		HostPort: strings.TrimPrefix(ts.URL, "http://"),
	})
	require.NoError(t, err)
	return cv
}

func TestConveyor_Ping(t *testing.T) {
	cv := newTestConveyor(t)

	require.NoError(t, cv.Ping(3, 50*time.Millisecond))
}

func TestQueue_TypedRoundTrip(t *testing.T) {
	cv := newTestConveyor(t)
	ctx := context.Background()

	q := GetQueue[job](cv, "jobs")
	assert.Equal(t, "jobs", q.Name())

	require.NoError(t, q.Create(ctx))

	exists, err := q.Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)

	first, err := q.Push(ctx, job{Name: "resize", Priority: 1})
	require.NoError(t, err)
	second, err := q.Push(ctx, job{Name: "upload", Priority: 2})
	require.NoError(t, err)
	assert.Greater(t, second, first)

	count, err := q.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	peeked, err := q.Peek(ctx, 10)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, "resize", peeked[0].Value.Name)

	items, err := q.Pop(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, Item[job]{ID: first, Value: job{Name: "resize", Priority: 1}}, items[0])
	assert.Equal(t, Item[job]{ID: second, Value: job{Name: "upload", Priority: 2}}, items[1])

	count, err = q.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, q.Delete(ctx))
}

func TestQueue_PopOne(t *testing.T) {
	cv := newTestConveyor(t)
	ctx := context.Background()

	q := GetQueue[string](cv, "default")

	_, ok, err := q.PopOne(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	id, err := q.Push(ctx, "hello")
	require.NoError(t, err)

	item, ok, err := q.PopOne(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, "hello", item.Value)
}

func TestQueue_ErrorTranslation(t *testing.T) {
	cv := newTestConveyor(t)
	ctx := context.Background()

	missing := GetQueue[string](cv, "no-such-queue")

	_, err := missing.Pop(ctx, 1)
	assert.ErrorIs(t, err, ErrQueueNotFound)

	_, err = missing.Count(ctx)
	assert.ErrorIs(t, err, ErrQueueNotFound)

	q := GetQueue[string](cv, "default")
	_, err = q.Pop(ctx, -1)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// Zero is a valid count and yields an empty result.
	items, err := q.Pop(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestQueue_DecodeError(t *testing.T) {
	cv := newTestConveyor(t)
	ctx := context.Background()

	writer := GetQueue[string](cv, "default")
	_, err := writer.Push(ctx, "not a number")
	require.NoError(t, err)

	reader := GetQueue[int](cv, "default")
	_, err = reader.Pop(ctx, 1)
	assert.ErrorIs(t, err, ErrDecode)
}

func TestQueue_Watch(t *testing.T) {
	cv := newTestConveyor(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := GetQueue[string](cv, "default")

	received := make(chan models.QueueEvent, 8)
	done := make(chan error, 1)
	go func() {
		done <- q.Watch(ctx, func(ev models.QueueEvent) {
			received <- ev
		})
	}()

	// Give the subscription a moment to establish before producing events.
	time.Sleep(200 * time.Millisecond)

	id, err := q.Push(ctx, "hello")
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
		t.Fatal("timed out waiting for watch to end")
	}
}
