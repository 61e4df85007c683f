// Package storage persists the list of sessions a client has opened so they can
// be resumed across runs. Transcripts stay on the backend.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/zhouzirui/hubchat/internal/model/chat"
)

var (
	// ErrSessionNotFound is returned when deleting an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidSession is returned for sessions without an id.
	ErrInvalidSession = errors.New("session id is required")
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	client_id  TEXT NOT NULL,
	chat_id    TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (client_id, chat_id)
);
CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions (client_id, created_at);
`

// SQLiteIndex stores sessions in a SQLite database.
type SQLiteIndex struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the index at path.
func OpenSQLite(path string) (*SQLiteIndex, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteIndex{db: db, now: time.Now}, nil
}

// Save inserts or renames a session.
func (s *SQLiteIndex) Save(ctx context.Context, clientID string, session chat.Session) error {
	if session.ID == "" {
		return ErrInvalidSession
	}
	created := session.Created
	if created.IsZero() {
		created = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (client_id, chat_id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (client_id, chat_id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		clientID, session.ID, session.Name, created.UnixMilli(), s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("save session %s: %w", session.ID, err)
	}
	return nil
}

// List returns the sessions of a client in creation order.
func (s *SQLiteIndex) List(ctx context.Context, clientID string) ([]chat.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_id, name, created_at FROM sessions
		WHERE client_id = ? ORDER BY created_at, rowid`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []chat.Session
	for rows.Next() {
		var (
			sess    chat.Session
			created int64
		)
		if err := rows.Scan(&sess.ID, &sess.Name, &created); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Created = time.UnixMilli(created).UTC()
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes a session.
func (s *SQLiteIndex) Delete(ctx context.Context, clientID, chatID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE client_id = ? AND chat_id = ?`, clientID, chatID)
	if err != nil {
		return fmt.Errorf("delete session %s: %w", chatID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", chatID, err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// LastClient returns the client that saved most recently, or "" for an empty
// index.
func (s *SQLiteIndex) LastClient(ctx context.Context) (string, error) {
	var clientID string
	err := s.db.QueryRowContext(ctx, `SELECT client_id FROM sessions ORDER BY updated_at DESC, rowid DESC LIMIT 1`).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last client: %w", err)
	}
	return clientID, nil
}

// Close closes the database.
func (s *SQLiteIndex) Close() error {
	return s.db.Close()
}
