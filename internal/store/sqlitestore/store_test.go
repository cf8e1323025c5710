package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
	"github.com/Tyrowin/huddle/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "huddle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.MessageStore { return openTestStore(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestAppendDuplicateIDFails(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	m := message.Message{ID: "msg_dup", ChannelID: "c1", AuthorID: "u1", Content: "hi", CreatedAt: message.Now()}

	req.NoError(s.Append(context.Background(), m))
	req.ErrorIs(s.Append(context.Background(), m), store.ErrPersistence)

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, 1)
}

func TestQuerySubMillisecondCutoff(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	at := time.Date(2026, 1, 1, 0, 0, 0, 5*int(time.Millisecond), time.UTC)
	req.NoError(s.Append(context.Background(), message.Message{ID: "msg_a", ChannelID: "c1", AuthorID: "u1", Content: "a", CreatedAt: at}))

	exact := at
	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1", Before: &exact})
	req.NoError(err)
	req.Empty(got)

	later := at.Add(500 * time.Microsecond)
	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1", Before: &later})
	req.NoError(err)
	req.Len(got, 1)
}

func TestEditedAtRoundTrip(t *testing.T) {
	req := require.New(t)
	s := openTestStore(t)
	created := message.Now()
	edited := created.Add(time.Minute)
	req.NoError(s.Append(context.Background(), message.Message{
		ID: "msg_e", ChannelID: "c1", AuthorID: "u1", Content: "x", CreatedAt: created, EditedAt: &edited,
	}))

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, 1)
	req.NotNil(got[0].EditedAt)
	req.True(edited.Equal(*got[0].EditedAt))
}
