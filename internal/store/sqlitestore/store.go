// Package sqlitestore persists channel messages in SQLite.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Tyrowin/huddle/internal/message"
	"github.com/Tyrowin/huddle/internal/store"
)

//go:embed schema.sql
var schema string

// Store is a SQLite-backed store.MessageStore. Timestamps are stored as Unix
// milliseconds, the precision messages are created with.
type Store struct {
	sqlDB *sql.DB
}

var _ store.MessageStore = (*Store)(nil)

// Open opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close releases the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Append implements store.MessageStore with a single-row insert.
func (s *Store) Append(ctx context.Context, m message.Message) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrPersistence, err)
	}

	var editedAt sql.NullInt64
	if m.EditedAt != nil {
		editedAt = sql.NullInt64{Int64: m.EditedAt.UnixMilli(), Valid: true}
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO messages (
	id,
	channel_id,
	author_id,
	content,
	created_at,
	edited_at
) VALUES (?, ?, ?, ?, ?, ?)
`,
		m.ID,
		m.ChannelID,
		m.AuthorID,
		m.Content,
		m.CreatedAt.UTC().UnixMilli(),
		editedAt,
	)
	if err != nil {
		if isDuplicateID(err) {
			return fmt.Errorf("%w: %w: %s", store.ErrPersistence, store.ErrDuplicateID, m.ID)
		}
		return fmt.Errorf("%w: insert message: %w", store.ErrPersistence, err)
	}
	return nil
}

func isDuplicateID(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code() == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

// Query implements store.MessageStore.
func (s *Store) Query(ctx context.Context, q store.Query) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}

	cutoff := int64(math.MaxInt64)
	if q.Before != nil {
		cutoff = q.Before.UTC().UnixMilli()
		// Round a sub-millisecond cutoff up: messages stored in that
		// millisecond precede it.
		if q.Before.Nanosecond()%int(time.Millisecond) != 0 {
			cutoff++
		}
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, channel_id, author_id, content, created_at, edited_at
FROM messages
WHERE channel_id = ? AND created_at < ?
ORDER BY created_at DESC, id DESC
LIMIT ?
`, q.ChannelID, cutoff, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	out := make([]message.Message, 0, q.Limit)
	for rows.Next() {
		var (
			m         message.Message
			createdAt int64
			editedAt  sql.NullInt64
		)
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.AuthorID, &m.Content, &createdAt, &editedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		if editedAt.Valid {
			t := time.UnixMilli(editedAt.Int64).UTC()
			m.EditedAt = &t
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}
