// Package message defines chat messages, their ids and wire encoding, and the
// inbound commands that create them.
package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// IDPrefix prefixes every message id.
const IDPrefix = "msg_"

// TimeLayout is the wire format for timestamps: RFC 3339 in UTC with
// millisecond precision.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one persisted chat message. It is never mutated once created.
type Message struct {
	ID        string
	ChannelID string
	AuthorID  string
	Content   string
	CreatedAt time.Time
	EditedAt  *time.Time
}

// NewID returns a fresh message id carrying 122 random bits.
func NewID() string {
	return IDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Now returns the current time truncated to the wire precision, so the value
// persisted equals the value clients see.
func Now() time.Time {
	return Truncate(time.Now())
}

// Truncate converts t to UTC at millisecond precision.
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Wire is the JSON shape of a message. Nonce is only set on live broadcasts.
type Wire struct {
	ID        string  `json:"id"`
	ChannelID string  `json:"channelId"`
	AuthorID  string  `json:"authorId"`
	Content   string  `json:"content"`
	CreatedAt string  `json:"createdAt"`
	EditedAt  *string `json:"editedAt"`
	Nonce     string  `json:"nonce,omitempty"`
}

// Wire converts m to its JSON shape.
func (m Message) Wire() Wire {
	w := Wire{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		AuthorID:  m.AuthorID,
		Content:   m.Content,
		CreatedAt: FormatTime(m.CreatedAt),
	}
	if m.EditedAt != nil {
		edited := FormatTime(*m.EditedAt)
		w.EditedAt = &edited
	}
	return w
}

// WithNonce returns the broadcast form of m, echoing the sender's nonce.
func (m Message) WithNonce(nonce string) Wire {
	w := m.Wire()
	w.Nonce = nonce
	return w
}

// MarshalJSON implements json.Marshaler.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Wire())
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w Wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	createdAt, err := time.Parse(time.RFC3339Nano, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("parse createdAt: %w", err)
	}
	*m = Message{
		ID:        w.ID,
		ChannelID: w.ChannelID,
		AuthorID:  w.AuthorID,
		Content:   w.Content,
		CreatedAt: createdAt.UTC(),
	}
	if w.EditedAt != nil {
		editedAt, err := time.Parse(time.RFC3339Nano, *w.EditedAt)
		if err != nil {
			return fmt.Errorf("parse editedAt: %w", err)
		}
		editedAt = editedAt.UTC()
		m.EditedAt = &editedAt
	}
	return nil
}
