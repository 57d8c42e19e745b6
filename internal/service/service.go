package service

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/AltaraLabs/mq/config"
	"github.com/AltaraLabs/mq/internal/events"
	"github.com/AltaraLabs/mq/internal/qstore"
	"github.com/AltaraLabs/mq/models"
	"github.com/gorilla/websocket"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

type Service struct {
	appCtx context.Context
	cfg    *config.Server
	logger *slog.Logger
	store  qstore.Store
	pubsub events.PubSub
	mux    *http.ServeMux

	startedAt time.Time

	rateLimiters map[string]*ttlcache.Cache[string, *rate.Limiter]
	wsUpgrader   websocket.Upgrader

	eventSessionsLock sync.Mutex
	eventSessions     map[*eventSession]bool
}

func New(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Server,
	store qstore.Store,
	ps events.PubSub,
) (*Service, error) {

	// Rate limiters are held per remote address so one noisy client can't
	// starve the rest. The caches expire idle entries on their own.
	rateLimiters := make(map[string]*ttlcache.Cache[string, *rate.Limiter])
	rlLogger := logger.With("component", "rate-limiter")

	makeCategoryRateLimiter := func() *ttlcache.Cache[string, *rate.Limiter] {
		cache := ttlcache.New[string, *rate.Limiter](
			ttlcache.WithTTL[string, *rate.Limiter](time.Minute*1),
			ttlcache.WithDisableTouchOnHit[string, *rate.Limiter](),
		)
		go cache.Start()
		return cache
	}

	if rlConfig := cfg.RateLimiters.Queue; rlConfig.Limit > 0 {
		rateLimiters["queue"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'queue'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.RateLimiters.System; rlConfig.Limit > 0 {
		rateLimiters["system"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'system'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.RateLimiters.Events; rlConfig.Limit > 0 {
		rateLimiters["events"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'events'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}
	if rlConfig := cfg.RateLimiters.Default; rlConfig.Limit > 0 {
		rateLimiters["default"] = makeCategoryRateLimiter()
		rlLogger.Info("Initialized rate limiter for 'default'", "limit", rlConfig.Limit, "burst", rlConfig.Burst)
	}

	service := &Service{
		appCtx:        ctx,
		cfg:           cfg,
		logger:        logger,
		store:         store,
		pubsub:        ps,
		mux:           http.NewServeMux(),
		startedAt:     time.Now(),
		rateLimiters:  rateLimiters,
		eventSessions: make(map[*eventSession]bool),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.Sessions.WebSocketReadBufferSize,
			WriteBufferSize: cfg.Sessions.WebSocketWriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				logger.Debug("WebSocket CheckOrigin called", "origin", r.Header.Get("Origin"), "host", r.Host)
				return true
			},
		},
	}

	service.registerRoutes()

	return service, nil
}

func (s *Service) registerRoutes() {

	// Queue admin handlers
	s.mux.Handle("/mq/api/v1/queue/create", s.rateLimitMiddleware(http.HandlerFunc(s.queueCreateHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/delete", s.rateLimitMiddleware(http.HandlerFunc(s.queueDeleteHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/exists", s.rateLimitMiddleware(http.HandlerFunc(s.queueExistsHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/list", s.rateLimitMiddleware(http.HandlerFunc(s.queueListHandler), "queue"))

	// Queue data handlers
	s.mux.Handle("/mq/api/v1/queue/push", s.rateLimitMiddleware(http.HandlerFunc(s.queuePushHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/pop", s.rateLimitMiddleware(http.HandlerFunc(s.queuePopHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/peek", s.rateLimitMiddleware(http.HandlerFunc(s.queuePeekHandler), "queue"))
	s.mux.Handle("/mq/api/v1/queue/count", s.rateLimitMiddleware(http.HandlerFunc(s.queueCountHandler), "queue"))

	// Events handlers
	s.mux.Handle("/mq/api/v1/events", s.rateLimitMiddleware(http.HandlerFunc(s.eventSubscribeHandler), "events"))

	// System handlers
	s.mux.Handle("/mq/api/v1/ping", s.rateLimitMiddleware(http.HandlerFunc(s.pingHandler), "system"))
}

// Handler exposes the routed mux so callers can mount or test the API
// without binding a listener.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Run forever until the context is cancelled
func (s *Service) Run() {

	httpListenAddr := s.cfg.Binding
	s.logger.Info("Attempting to start server", "listen_addr", httpListenAddr, "tls_enabled", (s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != ""))

	srv := &http.Server{
		Addr:    httpListenAddr,
		Handler: s.mux,
	}

	go func() {
		<-s.appCtx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Server shutdown error", "error", err)
		}
	}()

	if s.cfg.TLS.Cert != "" && s.cfg.TLS.Key != "" {
		s.logger.Info("Starting HTTPS server", "cert", s.cfg.TLS.Cert, "key", s.cfg.TLS.Key)
		srv.TLSConfig = &tls.Config{}
		if err := srv.ListenAndServeTLS(s.cfg.TLS.Cert, s.cfg.TLS.Key); err != http.ErrServerClosed {
			s.logger.Error("HTTPS server error", "error", err)
		}
	} else {
		s.logger.Info("TLS cert or key not specified in config. Starting HTTP server (insecure).")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", "error", err)
		}
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// Every error response shares one shape: a JSON object with a single
// descriptive "error" field.
func (s *Service) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, models.ErrorResponse{Error: msg})
}
