// Package badgerstore persists channel messages in BadgerDB.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
)

// Store is a BadgerDB-backed store.MessageStore.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

var _ store.MessageStore = (*Store)(nil)

// Open opens (or creates) a Badger database in dir.
func Open(dir string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLoggingLevel(badger.WARNING))
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return New(db, log), nil
}

// New wraps an already opened database. The Store takes ownership of db.
func New(db *badger.DB, log *slog.Logger) *Store {
	return &Store{db: db, log: log}
}

// Message keys have the form "msg/{hex channel id}/{sortable nanos, 20 digits}/{message id}".
// Hex-encoding the channel id keeps one channel's prefix from matching
// another's; the offset timestamp makes byte order chronological, including
// before 1970, and the id breaks ties between messages created in the same
// nanosecond. Each message also owns an "id/{message id}" key so ids stay
// unique across channels.
func channelPrefix(channelID string) []byte {
	return []byte(fmt.Sprintf("msg/%x/", channelID))
}

// sortableNanos maps UnixNano onto uint64 preserving order.
func sortableNanos(t time.Time) uint64 {
	return uint64(t.UnixNano()) ^ (1 << 63)
}

func messageKey(m message.Message) []byte {
	return fmt.Appendf(channelPrefix(m.ChannelID), "%020d/%s", sortableNanos(m.CreatedAt), m.ID)
}

func idKey(id string) []byte {
	return []byte("id/" + id)
}

// Append implements store.MessageStore. The write is a single transaction.
func (s *Store) Append(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	value, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: encode message: %w", store.ErrPersistence, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(idKey(m.ID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", store.ErrDuplicateID, m.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		if err := txn.Set(idKey(m.ID), messageKey(m)); err != nil {
			return err
		}
		return txn.Set(messageKey(m), value)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}
	return nil
}

// Query implements store.MessageStore with a reverse prefix scan starting at
// the Before cutoff.
func (s *Store) Query(ctx context.Context, q store.Query) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	prefix := channelPrefix(q.ChannelID)
	// Reverse iteration seeks to the largest key <= seek. Keys created at the
	// cutoff instant sort after "prefix+ts" because of their "/id" suffix, so
	// they are excluded.
	seek := append([]byte{}, prefix...)
	if q.Before != nil {
		seek = fmt.Appendf(seek, "%020d", sortableNanos(*q.Before))
	} else {
		seek = append(seek, 0xff)
	}

	out := make([]message.Message, 0, q.Limit)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix
		opts.PrefetchSize = q.Limit
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(seek); it.ValidForPrefix(prefix) && len(out) < q.Limit; it.Next() {
			var m message.Message
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return fmt.Errorf("decode message %q: %w", it.Item().Key(), err)
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Debug("queried channel history", "channel_id", q.ChannelID, "count", len(out))
	return out, nil
}

// Close implements store.MessageStore.
func (s *Store) Close() error {
	return s.db.Close()
}
