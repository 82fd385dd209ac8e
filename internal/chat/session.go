// Package chat keeps the message history of a conversation with an agent
// and drives streaming completions into it.
package chat

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexsjones/kaos-console/internal/kube"
)

// Roles of a message.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation.
type Message struct {
	ID          string          `json:"id"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Timestamp   time.Time       `json:"timestamp"`
	IsStreaming bool            `json:"isStreaming"`
	Progress    []kube.Progress `json:"progress,omitempty"`
	// Error is set when the completion that produced this message failed.
	Error string `json:"error,omitempty"`
}

// Streamer is implemented by *kube.Client.
type Streamer interface {
	StreamChatCompletion(ctx context.Context, ref kube.ServiceRef, req kube.ChatRequest, h kube.StreamHandler)
}

// Options tunes one Send call.
type Options struct {
	// Model defaults to the service name.
	Model       string
	Temperature *float64
	MaxTokens   *int
	// Observer receives the raw stream events after the session has
	// recorded them.
	Observer kube.StreamHandler
}

// Session is a conversation with one agent. It is safe for concurrent use;
// Send calls are serialized.
type Session struct {
	sendMu sync.Mutex

	mu       sync.RWMutex
	id       string
	messages []Message
	// gen is bumped by Reset; stream callbacks from an earlier generation
	// are ignored.
	gen uint64

	now func() time.Time
}

// NewSession returns an empty session. id may be empty, in which case the
// first id reported by the server is adopted.
func NewSession(id string) *Session {
	return &Session{id: id, now: time.Now}
}

// Restore returns a session continuing a stored conversation.
func Restore(id string, messages []Message) *Session {
	s := NewSession(id)
	s.messages = slices.Clone(messages)
	return s
}

// ID returns the server session id, or "" before one is known.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Snapshot returns a copy of the session id and messages.
func (s *Session) Snapshot() (string, []Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.messages))
	for i, m := range s.messages {
		m.Progress = slices.Clone(m.Progress)
		out[i] = m
	}
	return s.id, out
}

// Reset drops the history and the session id.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.messages = nil
	s.gen++
}

// Send appends text as a user message, streams the agent's reply into a new
// assistant message and returns when the stream has ended. The returned
// error is the stream failure, if any; the assistant message keeps whatever
// content arrived before it.
func (s *Session) Send(ctx context.Context, st Streamer, ref kube.ServiceRef, text string, opts Options) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	history := s.requestMessages()
	history = append(history, kube.CompletionMessage{Role: RoleUser, Content: text})
	s.messages = append(s.messages, s.newMessage(RoleUser, text, false))
	reply := len(s.messages)
	s.messages = append(s.messages, s.newMessage(RoleAssistant, "", true))
	sessionID := s.id
	gen := s.gen
	s.mu.Unlock()

	model := opts.Model
	if model == "" {
		model = ref.Name
	}
	req := kube.ChatRequest{
		Model:       model,
		Messages:    history,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		SessionID:   sessionID,
	}

	var streamErr error
	obs := opts.Observer
	st.StreamChatCompletion(ctx, ref, req, kube.StreamHandler{
		OnChunk: func(content string) {
			s.update(gen, reply, func(m *Message) { m.Content += content })
			if obs.OnChunk != nil {
				obs.OnChunk(content)
			}
		},
		OnSession: func(id string) {
			s.mu.Lock()
			if s.gen == gen && s.id == "" {
				s.id = id
			}
			s.mu.Unlock()
			if obs.OnSession != nil {
				obs.OnSession(id)
			}
		},
		OnProgress: func(p kube.Progress) {
			s.update(gen, reply, func(m *Message) { m.Progress = append(m.Progress, p) })
			if obs.OnProgress != nil {
				obs.OnProgress(p)
			}
		},
		OnDone: func(id string) {
			s.update(gen, reply, func(m *Message) { m.IsStreaming = false })
			if obs.OnDone != nil {
				obs.OnDone(id)
			}
		},
		OnError: func(err error) {
			streamErr = err
			s.update(gen, reply, func(m *Message) {
				m.IsStreaming = false
				m.Error = err.Error()
			})
			if obs.OnError != nil {
				obs.OnError(err)
			}
		},
	})
	return streamErr
}

// requestMessages is the finished history sent with the next request. An
// exchange whose reply failed or came back empty is left out as a whole, so
// user turns never repeat back to back. Caller holds mu.
func (s *Session) requestMessages() []kube.CompletionMessage {
	out := make([]kube.CompletionMessage, 0, len(s.messages)+1)
	for _, m := range s.messages {
		if m.IsStreaming || m.Error != "" || m.Content == "" {
			if m.Role == RoleAssistant && len(out) > 0 && out[len(out)-1].Role == RoleUser {
				out = out[:len(out)-1]
			}
			continue
		}
		out = append(out, kube.CompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func (s *Session) newMessage(role, content string, streaming bool) Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        role,
		Content:     content,
		Timestamp:   s.now(),
		IsStreaming: streaming,
	}
}

func (s *Session) update(gen uint64, i int, fn func(*Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Reset may have run while streaming.
	if s.gen == gen && i < len(s.messages) {
		fn(&s.messages[i])
	}
}
