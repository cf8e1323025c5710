package server_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/huddle/internal/config"
	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/server"
	"github.com/Tyrowin/huddle/internal/store"
)

const testOrigin = "http://localhost:5173"

type frame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack"`
	Data  json.RawMessage `json:"data"`
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.Store.Driver = config.StoreMemory
	return cfg
}

// startGateway serves a gateway over httptest and shuts both down with the test.
func startGateway(t *testing.T, st store.MessageStore, opts ...server.Option) (*server.Gateway, *httptest.Server) {
	t.Helper()
	opts = append([]server.Option{
		server.WithConfig(testConfig()),
		server.WithLogger(slog.New(slog.DiscardHandler)),
	}, opts...)

	g := server.NewGateway(st, opts...)
	ts := httptest.NewServer(server.SetupRoutes(g, nil))
	t.Cleanup(func() {
		_ = g.Shutdown(2 * time.Second)
		ts.Close()
	})
	return g, ts
}

func wsURL(ts *httptest.Server, query url.Values) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func dialRaw(ts *httptest.Server, query url.Values, header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", testOrigin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(wsURL(ts, query), header)
}

// connect opens an authenticated connection for userID.
func connect(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	conn, resp, err := dialRaw(ts, url.Values{"userId": {userID}}, nil)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, event, ack string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(frame{Event: event, Ack: ack, Data: payload}))
}

func join(t *testing.T, g *server.Gateway, conn *websocket.Conn, channelID string, wantSize int) {
	t.Helper()
	sendFrame(t, conn, server.EventJoin, "", map[string]string{"channelId": channelID})
	require.Eventually(t, func() bool { return g.Rooms().Size(channelID) == wantSize },
		2*time.Second, 5*time.Millisecond)
}

func send(t *testing.T, conn *websocket.Conn, ack, channelID, nonce, content string) {
	t.Helper()
	sendFrame(t, conn, server.EventSend, ack, map[string]string{
		"channelId": channelID,
		"nonce":     nonce,
		"content":   content,
	})
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readMessageNew(t *testing.T, conn *websocket.Conn) message.Wire {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, server.EventMessageNew, f.Event)
	var w message.Wire
	require.NoError(t, json.Unmarshal(f.Data, &w))
	return w
}

func readAck(t *testing.T, conn *websocket.Conn, wantAck string) message.Ack {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, server.EventAck, f.Event)
	require.Equal(t, wantAck, f.Ack)
	var a message.Ack
	require.NoError(t, json.Unmarshal(f.Data, &a))
	return a
}

// expectNoFrame writes an invalid send and requires its rejection to be the
// next frame, so nothing was queued to conn ahead of it.
func expectNoFrame(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	sendFrame(t, conn, server.EventSend, "barrier", map[string]string{"channelId": ""})
	f := readFrame(t, conn)
	require.Equal(t, server.EventAck, f.Event, "unexpected frame before barrier: %s", f.Data)
	require.Equal(t, "barrier", f.Ack)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}
