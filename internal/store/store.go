//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store defines the durable message log used by the realtime gateway
// and an in-memory implementation of it.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Tyrowin/huddle/internal/message"
)

// History page size bounds.
const (
	DefaultLimit = 50
	MaxLimit     = 100
)

var (
	// ErrPersistence wraps any failure to durably append a message.
	ErrPersistence = errors.New("message persistence failed")
	// ErrInvalidQuery is returned for a query without a channel.
	ErrInvalidQuery = errors.New("invalid message query")
	// ErrDuplicateID is returned when a message id is appended twice.
	ErrDuplicateID = errors.New("duplicate message id")
)

// Query selects one page of a channel's history, newest first. Only messages
// created strictly before Before are returned when it is set.
type Query struct {
	ChannelID string
	Limit     int
	Before    *time.Time
}

// Normalize validates q and clamps its limit to [1, MaxLimit]; a zero limit
// selects DefaultLimit.
func (q Query) Normalize() (Query, error) {
	if strings.TrimSpace(q.ChannelID) == "" {
		return Query{}, ErrInvalidQuery
	}
	switch {
	case q.Limit == 0:
		q.Limit = DefaultLimit
	case q.Limit < 1:
		q.Limit = 1
	case q.Limit > MaxLimit:
		q.Limit = MaxLimit
	}
	return q, nil
}

// MessageStore is an append-only log of channel messages. Append is atomic:
// a message is either fully visible to Query or not at all.
type MessageStore interface {
	Append(ctx context.Context, msg message.Message) error
	Query(ctx context.Context, q Query) ([]message.Message, error)
	Close() error
}
