package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Content and nonce limits. Lengths are counted in characters (runes).
const (
	MaxContentLength = 4000
	MaxNonceLength   = 64
)

// Ack error codes returned to the sending connection.
const (
	ErrorInvalidBody = "invalid_body"
	ErrorForbidden   = "forbidden"
	ErrorRateLimited = "rate_limited"
)

var (
	// ErrInvalidCommand marks a join or leave payload that does not parse.
	ErrInvalidCommand = errors.New("invalid command")
	// ErrInvalidBody marks a send payload that does not parse or validate.
	ErrInvalidBody = errors.New("invalid body")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ChannelCommand is the payload of channel:join and channel:leave.
type ChannelCommand struct {
	ChannelID string `json:"channelId" validate:"required"`
}

// SendCommand is the payload of message:send. Content is trimmed by
// DecodeSend before validation.
type SendCommand struct {
	ChannelID string `json:"channelId" validate:"required"`
	Nonce     string `json:"nonce" validate:"required,max=64"`
	Content   string `json:"content" validate:"required,max=4000"`
}

// DecodeChannel parses and validates a join or leave payload.
func DecodeChannel(data json.RawMessage) (ChannelCommand, error) {
	var cmd ChannelCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return ChannelCommand{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	if err := validate.Struct(cmd); err != nil {
		return ChannelCommand{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return cmd, nil
}

// DecodeSend parses, trims, and validates a message:send payload.
func DecodeSend(data json.RawMessage) (SendCommand, error) {
	var cmd SendCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return SendCommand{}, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	cmd.Content = strings.TrimSpace(cmd.Content)
	if err := validate.Struct(cmd); err != nil {
		return SendCommand{}, fmt.Errorf("%w: %w", ErrInvalidBody, err)
	}
	return cmd, nil
}

// Ack is the acknowledgement returned to the sender of message:send.
type Ack struct {
	OK        bool   `json:"ok"`
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"createdAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Accepted acknowledges a persisted message.
func Accepted(m Message) Ack {
	return Ack{OK: true, ID: m.ID, CreatedAt: FormatTime(m.CreatedAt)}
}

// Rejected acknowledges a refused send with the given error code.
func Rejected(code string) Ack {
	return Ack{OK: false, Error: code}
}
