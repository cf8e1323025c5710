// Package storetest provides a conformance suite for store.MessageStore
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) store.MessageStore

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the MessageStore contract against stores built by open.
func Run(t *testing.T, open Factory) {
	t.Run("AppendThenQueryNewestFirst", func(t *testing.T) { testNewestFirst(t, open(t)) })
	t.Run("BeforeIsExclusive", func(t *testing.T) { testBeforeExclusive(t, open(t)) })
	t.Run("LimitClamp", func(t *testing.T) { testLimitClamp(t, open(t)) })
	t.Run("ChannelsAreIsolated", func(t *testing.T) { testIsolation(t, open(t)) })
	t.Run("EmptyChannel", func(t *testing.T) { testEmpty(t, open(t)) })
	t.Run("InvalidQuery", func(t *testing.T) { testInvalidQuery(t, open(t)) })
	t.Run("ConcurrentAppends", func(t *testing.T) { testConcurrentAppends(t, open(t)) })
	t.Run("DuplicateIDRejected", func(t *testing.T) { testDuplicateID(t, open(t)) })
	t.Run("OrderSpansEpoch", func(t *testing.T) { testOrderSpansEpoch(t, open(t)) })
}

func msg(channelID string, i int) message.Message {
	return message.Message{
		ID:        fmt.Sprintf("msg_%s_%03d", channelID, i),
		ChannelID: channelID,
		AuthorID:  "usr_author",
		Content:   fmt.Sprintf("message %d", i),
		CreatedAt: base.Add(time.Duration(i) * time.Second),
	}
}

func appendN(t *testing.T, s store.MessageStore, channelID string, n int) []message.Message {
	t.Helper()
	out := make([]message.Message, 0, n)
	for i := 0; i < n; i++ {
		m := msg(channelID, i)
		require.NoError(t, s.Append(context.Background(), m))
		out = append(out, m)
	}
	return out
}

func testNewestFirst(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	appended := appendN(t, s, "c1", 5)

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, 5)
	for i, m := range got {
		want := appended[len(appended)-1-i]
		req.Equal(want.ID, m.ID)
		req.Equal(want.ChannelID, m.ChannelID)
		req.Equal(want.AuthorID, m.AuthorID)
		req.Equal(want.Content, m.Content)
		req.True(want.CreatedAt.Equal(m.CreatedAt), "createdAt %v != %v", want.CreatedAt, m.CreatedAt)
		req.Nil(m.EditedAt)
	}
}

func testBeforeExclusive(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	appended := appendN(t, s, "c1", 10)

	cutoff := appended[5].CreatedAt
	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1", Limit: 3, Before: &cutoff})
	req.NoError(err)
	req.Len(got, 3)
	req.Equal(appended[4].ID, got[0].ID)
	req.Equal(appended[3].ID, got[1].ID)
	req.Equal(appended[2].ID, got[2].ID)

	first := appended[0].CreatedAt
	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1", Before: &first})
	req.NoError(err)
	req.Empty(got)
}

func testLimitClamp(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	appendN(t, s, "c1", store.MaxLimit+5)

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, store.DefaultLimit)

	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1", Limit: 1000})
	req.NoError(err)
	req.Len(got, store.MaxLimit)

	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1", Limit: -3})
	req.NoError(err)
	req.Len(got, 1)
}

func testIsolation(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	appendN(t, s, "a", 3)
	appendN(t, s, "a:b", 2)

	got, err := s.Query(context.Background(), store.Query{ChannelID: "a"})
	req.NoError(err)
	req.Len(got, 3)
	for _, m := range got {
		req.Equal("a", m.ChannelID)
	}
}

func testEmpty(t *testing.T, s store.MessageStore) {
	got, err := s.Query(context.Background(), store.Query{ChannelID: "nobody-here"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func testInvalidQuery(t *testing.T, s store.MessageStore) {
	_, err := s.Query(context.Background(), store.Query{})
	require.ErrorIs(t, err, store.ErrInvalidQuery)
}

func testDuplicateID(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	first := msg("c1", 0)
	req.NoError(s.Append(context.Background(), first))

	again := msg("c2", 1)
	again.ID = first.ID
	err := s.Append(context.Background(), again)
	req.ErrorIs(err, store.ErrPersistence)
	req.ErrorIs(err, store.ErrDuplicateID)

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c2"})
	req.NoError(err)
	req.Empty(got)
	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, 1)
}

func testOrderSpansEpoch(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	epoch := time.Unix(0, 0).UTC()
	times := []time.Time{
		epoch.Add(-48 * time.Hour),
		epoch.Add(-time.Second),
		epoch,
		epoch.Add(time.Second),
	}
	for i, at := range times {
		m := msg("c1", i)
		m.CreatedAt = at
		req.NoError(s.Append(context.Background(), m))
	}

	got, err := s.Query(context.Background(), store.Query{ChannelID: "c1"})
	req.NoError(err)
	req.Len(got, len(times))
	for i, m := range got {
		req.True(times[len(times)-1-i].Equal(m.CreatedAt), "position %d: %v", i, m.CreatedAt)
	}

	got, err = s.Query(context.Background(), store.Query{ChannelID: "c1", Before: &epoch})
	req.NoError(err)
	req.Len(got, 2)
	req.True(times[1].Equal(got[0].CreatedAt))
	req.True(times[0].Equal(got[1].CreatedAt))
}

func testConcurrentAppends(t *testing.T, s store.MessageStore) {
	req := require.New(t)
	const writers, perWriter = 8, 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m := message.Message{
					ID:        message.NewID(),
					ChannelID: "busy",
					AuthorID:  fmt.Sprintf("usr_%d", w),
					Content:   "x",
					CreatedAt: message.Now(),
				}
				errs <- s.Append(context.Background(), m)
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		req.NoError(err)
	}

	got, err := s.Query(context.Background(), store.Query{ChannelID: "busy", Limit: store.MaxLimit})
	req.NoError(err)
	req.Len(got, writers*perWriter)
	for i := 1; i < len(got); i++ {
		req.False(got[i].CreatedAt.After(got[i-1].CreatedAt), "history not newest first at %d", i)
	}
}
