// Package session persists chat transcripts relayed by the dashboard
// backend, in SQLite by default or PostgreSQL.
package session

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// Session is a conversation with one agent, keyed by the id the agent
// reported.
type Session struct {
	ID        string    `json:"id"`
	Agent     string    `json:"agent"`
	Namespace string    `json:"namespace"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TranscriptEvent represents a single message in the conversation transcript.
type TranscriptEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Role      string    `json:"role"` // user, assistant
	Content   string    `json:"content"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Store provides session and transcript persistence.
type Store interface {
	// EnsureSession creates sess if its id is new and touches it otherwise.
	EnsureSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	// ListSessions returns the most recently updated sessions of an agent.
	ListSessions(ctx context.Context, agent, namespace string, limit int) ([]Session, error)
	// AppendTranscript appends events in order and touches their session.
	AppendTranscript(ctx context.Context, events ...TranscriptEvent) error
	// GetTranscript returns a session's events in insertion order.
	GetTranscript(ctx context.Context, sessionID string) ([]TranscriptEvent, error)
	Close() error
}

// Open returns a PostgreSQL store for postgres:// and postgresql:// DSNs
// and a SQLite store for anything else, treated as a file path.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return NewPGStore(ctx, dsn)
	}
	return NewSQLiteStore(ctx, dsn)
}
