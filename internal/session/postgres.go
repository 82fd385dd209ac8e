package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	agent      TEXT NOT NULL,
	namespace  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS transcript_events (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS transcript_events_session ON transcript_events (session_id, seq);
`

// PGStore is a Store backed by PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPGStore connects to PostgreSQL and creates the schema if needed.
func NewPGStore(ctx context.Context, databaseURL string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PGStore{pool: pool, now: time.Now}, nil
}

// Close shuts down the database connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PGStore) EnsureSession(ctx context.Context, sess *Session) error {
	now := s.now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sessions (id, agent, namespace, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4)
		 ON CONFLICT (id) DO UPDATE SET updated_at = EXCLUDED.updated_at
		 RETURNING created_at, updated_at`,
		sess.ID, sess.Agent, sess.Namespace, now,
	).Scan(&sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting session: %w", err)
	}
	return nil
}

func (s *PGStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent, namespace, created_at, updated_at FROM sessions WHERE id = $1`, id,
	).Scan(&sess.ID, &sess.Agent, &sess.Namespace, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}
	return sess, nil
}

func (s *PGStore) ListSessions(ctx context.Context, agent, namespace string, limit int) ([]Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, agent, namespace, created_at, updated_at FROM sessions
		 WHERE agent = $1 AND namespace = $2 ORDER BY updated_at DESC LIMIT $3`,
		agent, namespace, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	out := []Session{}
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.Agent, &sess.Namespace, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *PGStore) AppendTranscript(ctx context.Context, events ...TranscriptEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO transcript_events (id, session_id, role, content, error, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			e.ID, e.SessionID, e.Role, e.Content, e.Error, e.Timestamp.UTC(),
		)
	}
	batch.Queue(`UPDATE sessions SET updated_at = $1 WHERE id = $2`, s.now().UTC(), events[0].SessionID)
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting transcript events: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PGStore) GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, error, created_at
		 FROM transcript_events WHERE session_id = $1 ORDER BY seq ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}
	defer rows.Close()

	events := []TranscriptEvent{}
	for rows.Next() {
		var e TranscriptEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Role, &e.Content, &e.Error, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning transcript event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
