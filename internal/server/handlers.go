// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, channel history, and the built-in console page.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/huddle/internal/identity"
	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
)

// ServeWS runs the handshake and upgrades the connection. Requests without a
// valid identity are refused before the upgrade.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	id, err := g.auth.Authenticate(r)
	if err != nil {
		g.metrics.handshakeRejections.Inc()
		if !identity.IsUnauthenticated(err) {
			g.log.Error("handshake authenticator failed", "remote_addr", r.RemoteAddr, "error", err)
			writeJSONError(w, http.StatusServiceUnavailable, "authentication_unavailable")
			return
		}
		g.log.Info("handshake rejected", "remote_addr", r.RemoteAddr, "error", err)
		writeJSONError(w, http.StatusUnauthorized, "missing_user")
		return
	}

	g.mu.Lock()
	stopping := g.stopping
	g.mu.Unlock()
	if stopping {
		writeJSONError(w, http.StatusServiceUnavailable, "shutting_down")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.metrics.handshakeRejections.Inc()
		g.log.Info("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	s := newSession(conn, g, id, r.RemoteAddr)
	if !g.register(s) {
		s.close()
		_ = conn.Close()
	}
}

// HealthHandler reports that the process is serving.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}

type historyResponse struct {
	Items []message.Wire `json:"items"`
}

// HistoryHandler serves a page of a channel's messages, newest first.
// An unparsable limit or before is ignored.
func (g *Gateway) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	q := store.Query{ChannelID: chi.URLParam(r, "channelId")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil {
			q.Limit = limit
		}
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		if before, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			q.Before = &before
		}
	}

	msgs, err := g.store.Query(r.Context(), q)
	if err != nil {
		if errors.Is(err, store.ErrInvalidQuery) {
			writeJSONError(w, http.StatusBadRequest, "invalid_query")
			return
		}
		g.log.Error("history query failed", "channel_id", q.ChannelID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "store_unavailable")
		return
	}

	resp := historyResponse{Items: make([]message.Wire, 0, len(msgs))}
	for _, m := range msgs {
		resp.Items = append(resp.Items, m.Wire())
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// ConsolePageHandler serves an HTML page for exercising the websocket
// protocol by hand.
func ConsolePageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprint(w, consolePage)
}

const consolePage = `<!DOCTYPE html>
<html>
<head>
    <title>huddle console</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 200px; padding: 5px; margin-right: 10px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>huddle console</h1>

    <div id="status" class="status disconnected">Disconnected</div>

    <div>
        <input type="text" id="userInput" placeholder="user id">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="channelInput" placeholder="channel id">
        <button onclick="command('channel:join')">Join</button>
        <button onclick="command('channel:leave')">Leave</button>
    </div>
    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        let ws = null;
        let seq = 0;
        const pending = new Set();
        const messagesDiv = document.getElementById('messages');
        const statusDiv = document.getElementById('status');
        const connectButton = document.getElementById('connectButton');

        function addLine(text, color) {
            const el = document.createElement('div');
            el.style.margin = '5px 0';
            el.style.color = color || 'gray';
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        function updateStatus(connected) {
            statusDiv.textContent = connected ? 'Connected' : 'Disconnected';
            statusDiv.className = 'status ' + (connected ? 'connected' : 'disconnected');
            connectButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function connect() {
            const user = document.getElementById('userInput').value.trim();
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws?userId=' + encodeURIComponent(user));
            ws.onopen = () => { addLine('connected as ' + user); updateStatus(true); };
            ws.onmessage = (event) => {
                const frame = JSON.parse(event.data);
                if (frame.event === 'message:new') {
                    const m = frame.data;
                    const mine = m.nonce && pending.delete(m.nonce);
                    addLine('[' + m.channelId + '] ' + m.authorId + ': ' + m.content, mine ? 'blue' : 'green');
                } else if (frame.event === 'ack') {
                    addLine('ack ' + frame.ack + ' ' + JSON.stringify(frame.data));
                }
            };
            ws.onclose = () => { addLine('connection closed'); updateStatus(false); ws = null; };
        }

        function toggleConnection() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
            } else {
                connect();
            }
        }

        function command(event, data) {
            if (!ws || ws.readyState !== WebSocket.OPEN) return;
            const channelId = document.getElementById('channelInput').value.trim();
            const frame = { event: event, data: Object.assign({ channelId: channelId }, data || {}) };
            if (event === 'message:send') frame.ack = String(++seq);
            ws.send(JSON.stringify(frame));
        }

        function sendMessage() {
            const input = document.getElementById('messageInput');
            const content = input.value.trim();
            if (!content) return;
            const nonce = crypto.randomUUID();
            pending.add(nonce);
            command('message:send', { content: content, nonce: nonce });
            input.value = '';
        }

        document.getElementById('messageInput').addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
