package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Tyrowin/huddle/internal/message"
)

// MemoryStore keeps messages in process memory. It is used for tests and the
// "memory" store driver.
type MemoryStore struct {
	mu       sync.RWMutex
	channels map[string][]message.Message
	ids      map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		channels: make(map[string][]message.Message),
		ids:      make(map[string]struct{}),
	}
}

// Append implements MessageStore. Each channel is kept sorted by creation
// time, then id.
func (s *MemoryStore) Append(ctx context.Context, msg message.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ids[msg.ID]; exists {
		return fmt.Errorf("%w: %w: %s", ErrPersistence, ErrDuplicateID, msg.ID)
	}
	s.ids[msg.ID] = struct{}{}

	msgs := s.channels[msg.ChannelID]
	i := sort.Search(len(msgs), func(i int) bool {
		return after(msgs[i], msg)
	})
	msgs = append(msgs, message.Message{})
	copy(msgs[i+1:], msgs[i:])
	msgs[i] = msg
	s.channels[msg.ChannelID] = msgs
	return nil
}

// Query implements MessageStore.
func (s *MemoryStore) Query(ctx context.Context, q Query) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.channels[q.ChannelID]
	out := make([]message.Message, 0, min(q.Limit, len(msgs)))
	for i := len(msgs) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.Before != nil && !msgs[i].CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, msgs[i])
	}
	return out, nil
}

// Close implements MessageStore.
func (s *MemoryStore) Close() error { return nil }

func after(a, b message.Message) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.ID > b.ID
	}
	return a.CreatedAt.After(b.CreatedAt)
}
