// Package server coordinates session registration, room fan-out, and
// connection cleanup for the huddle realtime gateway.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
)

const tracerName = "github.com/Tyrowin/huddle/internal/server"

// Gateway accepts websocket connections, owns the room registry, and routes
// each session's commands. It is constructed once per process.
type Gateway struct {
	store    store.MessageStore
	rooms    *RoomRegistry
	auth     identity.Authenticator
	authz    identity.ChannelAuthorizer
	cfg      config.Config
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics
	tracer   trace.Tracer
	now      func() time.Time

	mu       sync.Mutex
	sessions map[*Session]struct{}
	stopping bool
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithConfig sets the gateway configuration. It is sanitized before use.
func WithConfig(cfg config.Config) Option {
	return func(g *Gateway) { g.cfg = config.Sanitize(cfg) }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithAuthenticator sets how the handshake establishes identity.
func WithAuthenticator(auth identity.Authenticator) Option {
	return func(g *Gateway) { g.auth = auth }
}

// WithAuthorizer sets the channel access check applied to join and send.
func WithAuthorizer(authz identity.ChannelAuthorizer) Option {
	return func(g *Gateway) { g.authz = authz }
}

// WithRegistry sets the prometheus registry the gateway's metrics live in.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(g *Gateway) { g.registry = reg }
}

// WithTracerProvider sets where send-path spans are recorded. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gateway) { g.tracer = tp.Tracer(tracerName) }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// NewGateway creates a gateway that persists messages to st.
func NewGateway(st store.MessageStore, opts ...Option) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		store:    st,
		auth:     identity.MetadataAuthenticator{},
		authz:    identity.TrustAll{},
		cfg:      config.Default(),
		log:      slog.Default(),
		tracer:   otel.Tracer(tracerName),
		now:      message.Now,
		sessions: make(map[*Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.registry == nil {
		g.registry = prometheus.NewRegistry()
	}

	g.log = g.log.With("component", "gateway")
	g.metrics = newMetrics(g.registry)
	g.rooms = newRoomRegistry(g.metrics)
	g.origins = newOriginPolicy(g.cfg.AllowedOrigins, g.log)
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.origins.check,
	}
	return g
}

// Rooms exposes the room registry.
func (g *Gateway) Rooms() *RoomRegistry { return g.rooms }

// MetricsHandler serves the gateway's prometheus registry.
func (g *Gateway) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{Registry: g.registry})
}

// SessionCount returns the number of live sessions.
func (g *Gateway) SessionCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// register adds s and starts its pumps. It fails once shutdown has begun.
func (g *Gateway) register(s *Session) bool {
	g.mu.Lock()
	if g.stopping {
		g.mu.Unlock()
		return false
	}
	g.sessions[s] = struct{}{}
	count := len(g.sessions)
	g.wg.Add(2)
	g.mu.Unlock()

	g.metrics.connectionsActive.Inc()
	s.log.Info("session registered", "sessions", count)

	connCtx := identity.WithIdentity(g.ctx, s.identity)
	go func() {
		defer g.wg.Done()
		s.writePump()
	}()
	go func() {
		defer g.wg.Done()
		s.readPump(connCtx)
	}()
	return true
}

// disconnect runs exactly once per session, from its read pump. The session
// stops accepting frames before it leaves its rooms.
func (g *Gateway) disconnect(s *Session) {
	s.close()
	left := g.rooms.LeaveAll(s, s.joined())
	clear(s.rooms)

	g.mu.Lock()
	_, ok := g.sessions[s]
	delete(g.sessions, s)
	count := len(g.sessions)
	g.mu.Unlock()

	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("close connection on disconnect", "error", err)
	}

	if ok {
		g.metrics.connectionsActive.Dec()
	}
	s.log.Info("session unregistered", "rooms_left", left, "sessions", count)
}

// shutdownSessions gracefully closes all active session connections
func (g *Gateway) shutdownSessions() int {
	g.mu.Lock()
	g.stopping = true
	sessions := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	for _, s := range sessions {
		s.close()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug("close connection on shutdown", "error", err)
		}
	}
	return len(sessions)
}

// Shutdown closes every connection, waits for their pumps to finish or the
// timeout to pass, and releases the room registry. In-flight sends still
// complete their persistence.
func (g *Gateway) Shutdown(timeout time.Duration) error {
	g.log.Info("initiating gateway shutdown")

	g.cancel()
	closed := g.shutdownSessions()
	g.log.Info("closed session connections", "count", closed)

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	defer g.rooms.clear()

	select {
	case <-done:
		g.log.Info("gateway shutdown completed")
		return nil
	case <-time.After(timeout):
		g.log.Warn("gateway shutdown timeout reached; some pumps may still be running", "timeout", timeout)
		return context.DeadlineExceeded
	}
}
