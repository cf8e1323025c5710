// Package server manages individual WebSocket sessions, handling read/write
// pumps, command dispatch, rate limiting, and lifecycle control for each
// connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/message"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Session is one authenticated connection. Its identity never changes after
// the handshake.
type Session struct {
	id       string
	conn     *websocket.Conn
	identity identity.Identity
	gateway  *Gateway
	log      *slog.Logger
	send     chan []byte
	limiter  *rateLimiter

	mu     sync.Mutex
	closed bool

	// rooms is only touched from the read pump.
	rooms map[string]struct{}
}

func newSession(conn *websocket.Conn, g *Gateway, id identity.Identity, addr string) *Session {
	sessionID := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(g.cfg.MaxMessageSize)
	}

	return &Session{
		id:       sessionID,
		conn:     conn,
		identity: id,
		gateway:  g,
		log:      g.log.With("session_id", sessionID, "user_id", id.UserID, "remote_addr", addr),
		send:     make(chan []byte, g.cfg.SendBuffer),
		limiter:  newRateLimiter(g.cfg.RateLimit.Burst, g.cfg.RateLimit.RefillInterval),
		rooms:    make(map[string]struct{}),
	}
}

// ID returns the session's connection id.
func (s *Session) ID() string { return s.id }

// Identity returns the identity established at handshake.
func (s *Session) Identity() identity.Identity { return s.identity }

// deliver queues payload without blocking. A full buffer closes the session
// so it never silently misses a frame.
func (s *Session) deliver(payload []byte) deliveryResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dropped
	}

	select {
	case s.send <- payload:
		return delivered
	default:
		s.closed = true
		close(s.send)
		s.gateway.metrics.slowConsumers.Inc()
		s.log.Warn("send buffer full; closing slow consumer", "buffer", cap(s.send))
		return overflowed
	}
}

// close stops further deliveries and lets the write pump finish. It reports
// whether this call performed the close.
func (s *Session) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.closed = true
	close(s.send)
	return true
}

func (s *Session) joined() []string {
	channels := make([]string, 0, len(s.rooms))
	for channelID := range s.rooms {
		channels = append(channels, channelID)
	}
	return channels
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Debug("set initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// logReadError logs a read failure at a level matching how expected it is.
func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn("frame exceeded maximum size", "limit", s.gateway.cfg.MaxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		s.log.Info("client disconnected", "reason", err)
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.log.Info("connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		s.log.Warn("unexpected websocket close", "error", err)
	default:
		s.log.Info("websocket read ended", "reason", err)
	}
}

// readPump processes frames strictly in arrival order. On return the session
// has left every room.
func (s *Session) readPump(ctx context.Context) {
	defer s.gateway.disconnect(s)

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.dispatch(ctx, raw)
	}
}

func (s *Session) dispatch(ctx context.Context, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("recovered from panic while handling frame", "panic", r)
		}
	}()

	frame, err := decodeFrame(raw)
	if err != nil {
		s.gateway.metrics.command("unknown", outcomeInvalid)
		s.log.Debug("dropping invalid frame", "error", err)
		return
	}

	if !s.limiter.allow() {
		s.gateway.metrics.command(frame.Event, outcomeRateLimited)
		s.log.Warn("rate limit exceeded",
			"event", frame.Event,
			"burst", s.gateway.cfg.RateLimit.Burst,
			"interval", s.gateway.cfg.RateLimit.RefillInterval)
		if frame.Event == EventSend {
			s.ack(frame.Ack, message.Rejected(message.ErrorRateLimited))
		}
		return
	}

	switch frame.Event {
	case EventJoin:
		s.handleJoin(ctx, frame)
	case EventLeave:
		s.handleLeave(frame)
	case EventSend:
		s.handleSend(ctx, frame)
	}
}

// caller returns the identity bound to the connection context at
// registration, falling back to the handshake identity.
func (s *Session) caller(ctx context.Context) identity.Identity {
	if id, ok := identity.FromContext(ctx); ok {
		return id
	}
	return s.identity
}

func (s *Session) handleJoin(ctx context.Context, frame InboundFrame) {
	cmd, err := message.DecodeChannel(frame.Data)
	if err != nil {
		s.gateway.metrics.command(EventJoin, outcomeInvalid)
		s.log.Debug("dropping invalid join", "error", err)
		return
	}

	if err := s.gateway.authz.AuthorizeChannel(ctx, s.caller(ctx), cmd.ChannelID); err != nil {
		s.gateway.metrics.command(EventJoin, outcomeForbidden)
		s.log.Warn("join refused", "channel_id", cmd.ChannelID, "error", err)
		return
	}

	if s.gateway.rooms.Join(cmd.ChannelID, s) {
		s.rooms[cmd.ChannelID] = struct{}{}
		s.log.Debug("joined channel", "channel_id", cmd.ChannelID)
	}
	s.gateway.metrics.command(EventJoin, outcomeOK)
}

func (s *Session) handleLeave(frame InboundFrame) {
	cmd, err := message.DecodeChannel(frame.Data)
	if err != nil {
		s.gateway.metrics.command(EventLeave, outcomeInvalid)
		s.log.Debug("dropping invalid leave", "error", err)
		return
	}

	if s.gateway.rooms.Leave(cmd.ChannelID, s) {
		s.log.Debug("left channel", "channel_id", cmd.ChannelID)
	}
	delete(s.rooms, cmd.ChannelID)
	s.gateway.metrics.command(EventLeave, outcomeOK)
}

// handleSend validates, persists, broadcasts, and acknowledges one message.
// Persistence is detached from the connection so a disconnect cannot abort
// a message that is already on its way to the store.
func (s *Session) handleSend(ctx context.Context, frame InboundFrame) {
	started := time.Now()

	cmd, err := message.DecodeSend(frame.Data)
	if err != nil {
		s.gateway.metrics.command(EventSend, outcomeInvalid)
		s.log.Debug("rejecting invalid send", "error", err)
		s.ack(frame.Ack, message.Rejected(message.ErrorInvalidBody))
		return
	}

	author := s.caller(ctx)
	if err := s.gateway.authz.AuthorizeChannel(ctx, author, cmd.ChannelID); err != nil {
		s.gateway.metrics.command(EventSend, outcomeForbidden)
		s.log.Warn("send refused", "channel_id", cmd.ChannelID, "error", err)
		s.ack(frame.Ack, message.Rejected(message.ErrorForbidden))
		return
	}

	ctx, span := s.gateway.tracer.Start(ctx, "message.send",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("huddle.channel_id", cmd.ChannelID),
			attribute.String("huddle.user_id", author.UserID),
			attribute.String("huddle.session_id", s.id),
		))
	defer span.End()

	msg := message.Message{
		ID:        message.NewID(),
		ChannelID: cmd.ChannelID,
		AuthorID:  author.UserID,
		Content:   cmd.Content,
		CreatedAt: s.gateway.now(),
	}
	span.SetAttributes(attribute.String("huddle.message_id", msg.ID))

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.gateway.cfg.PersistTimeout)
	defer cancel()

	if err := s.gateway.store.Append(persistCtx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.gateway.metrics.persistFailures.Inc()
		s.gateway.metrics.command(EventSend, outcomeFailed)
		s.log.Error("persist message failed; not broadcasting",
			"channel_id", msg.ChannelID,
			"message_id", msg.ID,
			"error", err)
		return
	}
	s.gateway.metrics.messagesPersisted.Inc()

	payload, err := encodeMessageNew(msg.WithNonce(cmd.Nonce))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("encode message:new", "message_id", msg.ID, "error", err)
		return
	}

	result := s.gateway.rooms.Broadcast(msg.ChannelID, payload)
	span.SetAttributes(attribute.Int("huddle.recipients", result.Attempted))
	span.SetStatus(codes.Ok, "")

	s.ack(frame.Ack, message.Accepted(msg))
	s.gateway.metrics.command(EventSend, outcomeOK)
	s.gateway.metrics.sendDuration.Observe(time.Since(started).Seconds())
	s.log.Debug("message sent",
		"channel_id", msg.ChannelID,
		"message_id", msg.ID,
		"recipients", result.Attempted)
}

// ack answers the originating connection only. A closed session drops it.
func (s *Session) ack(correlation string, a message.Ack) {
	payload, err := encodeAck(correlation, a)
	if err != nil {
		s.log.Error("encode ack", "error", err)
		return
	}
	if s.deliver(payload) == dropped {
		s.log.Debug("ack dropped; session closed", "ack", correlation)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.closeConnection()
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (s *Session) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case payload, ok := <-s.send:
		if !ok {
			s.writeCloseMessage()
			return false
		}
		return s.writeFrame(payload)
	case <-ticker.C:
		return s.writePing()
	}
}

// writeFrame writes one JSON frame per websocket message.
func (s *Session) writeFrame(payload []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Debug("set write deadline", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Warn("write frame failed", "error", err)
		}
		return false
	}
	return true
}

func (s *Session) writeCloseMessage() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug("write close message", "error", err)
		}
	}
}

func (s *Session) writePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.log.Debug("set write deadline for ping", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.log.Debug("write ping", "error", err)
		return false
	}
	return true
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (s *Session) closeConnection() {
	if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug("close connection", "error", err)
	}
}
