// Package history stores finalized chat messages per conversation.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"chatstream/internal/domain"
)

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and runs
// the schema migration.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create history dir: %v", domain.ErrHistoryStore, err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open history db: %v", domain.ErrHistoryStore, err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent turns.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: set WAL mode: %v", domain.ErrHistoryStore, err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate history db: %v", domain.ErrHistoryStore, err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT '',
			session_id      TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, id);
	`)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores msgs in order within one transaction.
func (s *SQLiteStore) Append(ctx context.Context, conversationID string, msgs ...domain.ChatMessage) error {
	if conversationID == "" {
		return fmt.Errorf("%w: conversation id is empty", domain.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrHistoryStore, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO messages (conversation_id, role, content, status, session_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
	)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", domain.ErrHistoryStore, err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		ts := m.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			conversationID, m.Role, m.Content, string(m.Status), m.SessionID,
			ts.UTC().Format(timeLayout),
		); err != nil {
			return fmt.Errorf("%w: insert: %v", domain.ErrHistoryStore, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrHistoryStore, err)
	}
	return nil
}

// Recent returns up to limit of the newest messages, oldest first. A limit
// of zero or less returns the whole conversation.
func (s *SQLiteStore) Recent(ctx context.Context, conversationID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content, status, session_id, created_at FROM (
			SELECT id, role, content, status, session_id, created_at
			FROM messages WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var msgs []domain.ChatMessage
	for rows.Next() {
		var m domain.ChatMessage
		var status, created string
		if err := rows.Scan(&m.Role, &m.Content, &status, &m.SessionID, &created); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrHistoryStore, err)
		}
		m.Status = domain.StreamStatus(status)
		m.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrHistoryStore, err)
	}
	return msgs, nil
}

// Conversations lists stored conversations, most recently updated first.
func (s *SQLiteStore) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	// UpdatedAt is the timestamp of each conversation's newest row.
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.conversation_id, c.n, m.created_at, m.id
		FROM messages m
		JOIN (
			SELECT conversation_id, COUNT(*) AS n, MAX(id) AS last_id
			FROM messages GROUP BY conversation_id
		) c ON m.id = c.last_id
		ORDER BY m.id DESC`)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", domain.ErrHistoryStore, err)
	}
	defer rows.Close()

	var out []domain.Conversation
	for rows.Next() {
		var c domain.Conversation
		var updated string
		var lastID int64
		if err := rows.Scan(&c.ID, &c.MessageCount, &updated, &lastID); err != nil {
			return nil, fmt.Errorf("%w: scan: %v", domain.ErrHistoryStore, err)
		}
		c.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: rows: %v", domain.ErrHistoryStore, err)
	}
	return out, nil
}

var _ domain.HistoryStore = (*SQLiteStore)(nil)
