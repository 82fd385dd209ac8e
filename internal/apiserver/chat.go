package apiserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alexsjones/kaos-console/internal/chat"
	"github.com/alexsjones/kaos-console/internal/eventbus"
	"github.com/alexsjones/kaos-console/internal/kube"
	"github.com/alexsjones/kaos-console/internal/session"
)

// ChatRequest is the body of POST /api/v1/agents/{name}/chat.
type ChatRequest struct {
	Message     string   `json:"message"`
	SessionID   string   `json:"sessionId,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"maxTokens,omitempty"`
}

// sseWriter writes named Server-Sent Events and flushes each one.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	broken  bool
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	sw := &sseWriter{w: w}
	sw.flusher, _ = w.(http.Flusher)
	sw.flush()
	return sw
}

func (sw *sseWriter) send(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.broken {
		return
	}
	if _, err := fmt.Fprintf(sw.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		// The browser went away; the stream itself ends through the
		// request context.
		sw.broken = true
		return
	}
	sw.flush()
}

func (sw *sseWriter) flush() {
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
}

// chat relays one streaming completion of an agent to the browser as SSE
// events named session, chunk, progress, done and error, and records the
// exchange when the agent reports a session id.
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, badRequest("invalid JSON: %v", err))
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, r, badRequest("message is required"))
		return
	}
	agent := r.PathValue("name")
	ref, err := serviceRef(r, agent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	c := s.Client()
	if !c.Configured() {
		s.writeError(w, r, kube.ErrNotConfigured)
		return
	}
	if ref.Namespace == "" {
		ref.Namespace = c.Config().Namespace
	}

	sess, err := s.loadSession(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	streamID := uuid.NewString()
	meta := func() map[string]string {
		return map[string]string{
			eventbus.MetaAgent:     agent,
			eventbus.MetaNamespace: ref.Namespace,
			eventbus.MetaSession:   sess.ID(),
			eventbus.MetaStream:    streamID,
		}
	}
	// Publishing must not be tied to the browser's request.
	pubCtx := context.WithoutCancel(r.Context())

	sw := newSSEWriter(w)
	start := time.Now()
	outcome := "done"
	err = sess.Send(r.Context(), c, ref, req.Message, chat.Options{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Observer: kube.StreamHandler{
			OnSession: func(id string) {
				sw.send("session", map[string]string{"sessionId": id})
			},
			OnChunk: func(content string) {
				sw.send("chunk", map[string]string{"content": content})
				s.publish(pubCtx, eventbus.TopicChatChunk, meta(), map[string]string{"content": content})
			},
			OnProgress: func(p kube.Progress) {
				sw.send("progress", p)
				s.publish(pubCtx, eventbus.TopicChatProgress, meta(), p)
			},
			OnDone: func(id string) {
				sw.send("done", map[string]string{"sessionId": id})
				s.publish(pubCtx, eventbus.TopicChatDone, meta(), map[string]string{"sessionId": id})
			},
			OnError: func(err error) {
				body := map[string]any{"error": err.Error()}
				var streamErr *kube.ChatStreamError
				if errors.As(err, &streamErr) && streamErr.StatusCode != 0 {
					body["status"] = streamErr.StatusCode
				}
				sw.send("error", body)
				s.publish(pubCtx, eventbus.TopicChatError, meta(), body)
			},
		},
	})
	switch {
	case err != nil:
		outcome = "error"
	case r.Context().Err() != nil:
		outcome = "canceled"
	}
	s.telemetry.RecordChatStream(pubCtx, agent, outcome, time.Since(start))
	s.log.V(1).Info("chat stream finished", "agent", agent, "session", sess.ID(), "outcome", outcome)

	s.saveExchange(pubCtx, sess, agent, ref.Namespace)
}

// loadSession restores a stored conversation, or starts a new one carrying
// id when nothing is stored for it.
func (s *Server) loadSession(ctx context.Context, id string) (*chat.Session, error) {
	if id == "" || s.store == nil {
		return chat.NewSession(id), nil
	}
	events, err := s.store.GetTranscript(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", id, err)
	}
	msgs := make([]chat.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, chat.Message{
			ID:        e.ID,
			Role:      e.Role,
			Content:   e.Content,
			Timestamp: e.Timestamp,
			Error:     e.Error,
		})
	}
	return chat.Restore(id, msgs), nil
}

// saveExchange stores the last user message and reply.
func (s *Server) saveExchange(ctx context.Context, sess *chat.Session, agent, ns string) {
	id, msgs := sess.Snapshot()
	if s.store == nil || id == "" || len(msgs) < 2 {
		return
	}
	if err := s.store.EnsureSession(ctx, &session.Session{ID: id, Agent: agent, Namespace: ns}); err != nil {
		s.log.Error(err, "saving chat session", "session", id)
		return
	}
	events := make([]session.TranscriptEvent, 0, 2)
	for _, m := range msgs[len(msgs)-2:] {
		events = append(events, session.TranscriptEvent{
			ID:        m.ID,
			SessionID: id,
			Role:      m.Role,
			Content:   m.Content,
			Error:     m.Error,
			Timestamp: m.Timestamp,
		})
	}
	if err := s.store.AppendTranscript(ctx, events...); err != nil {
		s.log.Error(err, "saving chat transcript", "session", id)
	}
}

type sessionResponse struct {
	Session *session.Session          `json:"session"`
	Events  []session.TranscriptEvent `json:"events"`
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, r, session.ErrNotFound)
		return
	}
	id := r.PathValue("id")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	events, err := s.store.GetTranscript(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, sessionResponse{Session: sess, Events: events})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, []session.Session{})
		return
	}
	ns := namespaceParam(r)
	if ns == "" {
		ns = s.Client().Config().Namespace
	}
	list, err := s.store.ListSessions(r.Context(), r.PathValue("name"), ns, 50)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, list)
}
