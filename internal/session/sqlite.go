package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Timestamps are stored as Unix nanoseconds.
const sqliteSchema = `
PRAGMA foreign_keys = ON;
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	agent      TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS transcript_events_session ON transcript_events (session_id, seq);
`

// SQLiteStore is a Store in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSession(ctx context.Context, sess *Session) error {
	now := s.now().UnixNano()
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, agent, namespace, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at
		 RETURNING created_at, updated_at`,
		sess.ID, sess.Agent, sess.Namespace, now, now,
	).Scan(&created, &updated)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, agent, namespace, created_at, updated_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, agent, namespace string, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent, namespace, created_at, updated_at FROM sessions
		 WHERE agent = ? AND namespace = ? ORDER BY updated_at DESC LIMIT ?`,
		agent, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var sess Session
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.Agent, &sess.Namespace, &created, &updated); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.UpdatedAt = time.Unix(0, updated).UTC()
	return &sess, nil
}

func (s *SQLiteStore) AppendTranscript(ctx context.Context, events ...TranscriptEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, e := range events {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transcript_events (id, session_id, role, content, error, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.Role, e.Content, e.Error, e.Timestamp.UnixNano(),
		); err != nil {
			return fmt.Errorf("inserting transcript event: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, s.now().UnixNano(), events[0].SessionID,
	); err != nil {
		return fmt.Errorf("updating session timestamp: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, error, created_at
		 FROM transcript_events WHERE session_id = ? ORDER BY seq ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := []TranscriptEvent{}
	for rows.Next() {
		var e TranscriptEvent
		var ts int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.Error, &ts); err != nil {
			return nil, fmt.Errorf("scanning transcript event: %w", err)
		}
		e.Timestamp = time.Unix(0, ts).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
