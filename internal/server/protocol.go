// Package server defines the frame envelope exchanged over the websocket and
// utility helpers that are reused across session and gateway logic.
package server

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Tyrowin/huddle/internal/message"
)

// Inbound and outbound event names.
const (
	EventJoin       = "channel:join"
	EventLeave      = "channel:leave"
	EventSend       = "message:send"
	EventMessageNew = "message:new"
	EventAck        = "ack"
)

var errUnknownEvent = errors.New("unknown event")

// InboundFrame is one client command. Ack correlates a message:send with its
// acknowledgement.
type InboundFrame struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// OutboundFrame is one server event.
type OutboundFrame struct {
	Event string `json:"event"`
	Ack   string `json:"ack,omitempty"`
	Data  any    `json:"data"`
}

func decodeFrame(raw []byte) (InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return InboundFrame{}, err
	}
	switch frame.Event {
	case EventJoin, EventLeave, EventSend:
		return frame, nil
	default:
		return InboundFrame{}, errUnknownEvent
	}
}

func encodeMessageNew(w message.Wire) ([]byte, error) {
	return json.Marshal(OutboundFrame{Event: EventMessageNew, Data: w})
}

func encodeAck(ack string, a message.Ack) ([]byte, error) {
	return json.Marshal(OutboundFrame{Event: EventAck, Ack: ack, Data: a})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
