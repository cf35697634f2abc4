// Package gateway relays streaming turns to remote clients over HTTP and
// WebSocket.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/middleware"
	"chatstream/internal/usecase/streaming"
)

// TurnService is the part of the stream service exposed by the gateway.
type TurnService interface {
	Start(ctx context.Context, req streaming.TurnRequest) (*streaming.Handle, error)
	Get(id string) (*streaming.Handle, bool)
	Cancel(id string) error
	Active() []domain.StreamSession
}

// Server is the HTTP and WebSocket gateway in front of a TurnService.
type Server struct {
	svc     TurnService
	bus     domain.EventBus // optional
	auth    Authenticator   // nil = open
	cfg     config.GatewayConfig
	limiter *middleware.KeyedLimiter
	metrics *Metrics
	logger  *slog.Logger
	started time.Time

	clients  sync.Map // connID (uint64) -> *websocket.Conn
	nextConn atomic.Uint64

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
	ready     chan struct{}
	unsub     func()
}

// NewServer creates a gateway. bus may be nil, in which case metrics stay
// at zero and /ws/events is unavailable.
func NewServer(cfg config.GatewayConfig, svc TurnService, bus domain.EventBus, logger *slog.Logger) *Server {
	s := &Server{
		svc:     svc,
		bus:     bus,
		cfg:     cfg,
		limiter: middleware.NewKeyedLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		metrics: &Metrics{},
		logger:  logger,
		started: time.Now(),
		ready:   make(chan struct{}),
	}
	if len(cfg.Tokens) > 0 {
		s.auth = NewStaticTokenAuth(cfg.Tokens)
	}
	if bus != nil {
		s.unsub = s.metrics.Observe(bus)
	}
	return s
}

// Metrics returns the live counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Handler returns the gateway routes wrapped in security headers.
func (s *Server) Handler() http.Handler {
	limited := middleware.RateLimit(s.limiter, s.cfg.TrustedProxies)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/turns", s.authed(limited(http.HandlerFunc(s.handleStart))))
	mux.Handle("GET /v1/turns", s.authed(http.HandlerFunc(s.handleList)))
	mux.Handle("GET /v1/turns/{id}", s.authed(http.HandlerFunc(s.handleGet)))
	mux.Handle("DELETE /v1/turns/{id}", s.authed(http.HandlerFunc(s.handleCancel)))
	mux.Handle("GET /ws", s.authed(http.HandlerFunc(s.handleWatch)))
	mux.Handle("GET /ws/events", s.authed(http.HandlerFunc(s.handleEvents)))
	mux.Handle("GET /v1/status", s.authed(statusHandler(s.svc, s.started, s.metrics)))
	mux.Handle("GET /metrics", s.authed(metricsHandler(s.svc, s.started, s.metrics)))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return middleware.SecurityHeaders(mux)
}

// Start listens on the configured address and serves until ctx is
// cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}

	s.mu.Lock()
	s.boundAddr = listener.Addr().String()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.httpSrv
	s.mu.Unlock()
	close(s.ready)

	go s.limiter.Run(ctx)
	go func() {
		<-ctx.Done()
		s.Stop(context.Background())
	}()

	s.logger.Info("gateway started", "addr", listener.Addr().String(), "auth", s.auth != nil)
	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("gateway serve: %w", err)
	}
	return nil
}

// Ready is closed once Start has bound its listener.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// BoundAddr returns the address the server bound to. Only valid after Ready.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}

// Stop closes WebSocket clients and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	s.clients.Range(func(key, value any) bool {
		value.(*websocket.Conn).Close(websocket.StatusGoingAway, "server shutting down")
		s.clients.Delete(key)
		return true
	})
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// authed rejects requests without a valid token when tokens are configured.
func (s *Server) authed(next http.Handler) http.Handler {
	if s.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.auth.Authenticate(tokenFromRequest(r))
		if err != nil {
			middleware.WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(withClient(r.Context(), info)))
	})
}

// originPatterns allows localhost during development plus configured origins.
func (s *Server) originPatterns() []string {
	patterns := []string{
		"localhost",
		"localhost:*",
		"127.0.0.1",
		"127.0.0.1:*",
		"[::1]",
		"[::1]:*",
	}
	return append(patterns, s.cfg.AllowedOrigins...)
}

func (s *Server) track(ws *websocket.Conn) func() {
	id := s.nextConn.Add(1)
	s.clients.Store(id, ws)
	s.metrics.WSClients.Add(1)
	return func() {
		s.clients.Delete(id)
		s.metrics.WSClients.Add(-1)
	}
}
