package server

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/store"
)

func newDetachedSession(t *testing.T, buffer int) (*Gateway, *Session) {
	t.Helper()
	cfg := config.Default()
	cfg.SendBuffer = buffer
	g := NewGateway(store.NewMemoryStore(), WithConfig(cfg), WithLogger(slog.New(slog.DiscardHandler)))
	return g, newSession(nil, g, identity.Identity{UserID: "u1", DisplayName: "u1"}, "test")
}

// TestDeliverClosesSlowConsumer verifies that a full send buffer closes the
// session instead of silently skipping a frame.
func TestDeliverClosesSlowConsumer(t *testing.T) {
	req := require.New(t)
	g, s := newDetachedSession(t, 2)

	req.Equal(delivered, s.deliver([]byte("1")))
	req.Equal(delivered, s.deliver([]byte("2")))
	req.Equal(overflowed, s.deliver([]byte("3")))
	req.Equal(dropped, s.deliver([]byte("4")))
	req.Equal(1.0, metricValue(t, g.registry, "huddle_slow_consumer_disconnects_total"))

	// Frames queued before the overflow are still flushed, then the channel ends.
	req.Equal("1", string(<-s.send))
	req.Equal("2", string(<-s.send))
	_, ok := <-s.send
	req.False(ok)
}

// TestCloseIsIdempotent verifies close reports only the first call and that
// deliveries after close are dropped.
func TestCloseIsIdempotent(t *testing.T) {
	req := require.New(t)
	_, s := newDetachedSession(t, 4)

	req.True(s.close())
	req.False(s.close())
	req.Equal(dropped, s.deliver([]byte("late")))
}

// TestSessionRoomsTrackJoins verifies the session's own subscription set
// mirrors the registry.
func TestSessionRoomsTrackJoins(t *testing.T) {
	req := require.New(t)
	g, s := newDetachedSession(t, 4)

	s.handleJoin(g.ctx, InboundFrame{Event: EventJoin, Data: []byte(`{"channelId":"c1"}`)})
	s.handleJoin(g.ctx, InboundFrame{Event: EventJoin, Data: []byte(`{"channelId":"c1"}`)})
	s.handleJoin(g.ctx, InboundFrame{Event: EventJoin, Data: []byte(`{"channelId":""}`)})
	req.ElementsMatch([]string{"c1"}, s.joined())
	req.Equal(1, g.rooms.Size("c1"))

	s.handleLeave(InboundFrame{Event: EventLeave, Data: []byte(`{"channelId":"c1"}`)})
	req.Empty(s.joined())
	req.Equal(0, g.rooms.Size("c1"))
}
