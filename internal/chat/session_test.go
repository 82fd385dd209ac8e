package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexsjones/kaos-console/internal/kube"
)

// fakeStreamer replays a script of events and records the requests.
type fakeStreamer struct {
	sessionID string
	chunks    []string
	progress  []kube.Progress
	err       error
	// midStream runs after the request is recorded, before any event.
	midStream func()

	mu   sync.Mutex
	reqs []kube.ChatRequest
}

func (f *fakeStreamer) StreamChatCompletion(_ context.Context, _ kube.ServiceRef, req kube.ChatRequest, h kube.StreamHandler) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.midStream != nil {
		f.midStream()
	}
	if f.sessionID != "" {
		h.OnSession(f.sessionID)
	}
	for _, p := range f.progress {
		h.OnProgress(p)
	}
	for _, c := range f.chunks {
		h.OnChunk(c)
	}
	if f.err != nil {
		h.OnError(f.err)
		return
	}
	h.OnDone(f.sessionID)
}

var ref = kube.ServiceRef{Name: "agent-echo", Namespace: "demo"}

func TestSend_RecordsConversation(t *testing.T) {
	st := &fakeStreamer{sessionID: "s1", chunks: []string{"Hi", " there"}}
	s := NewSession("")

	require.NoError(t, s.Send(context.Background(), st, ref, "hello", Options{}))

	id, msgs := s.Snapshot()
	assert.Equal(t, "s1", id)
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Hi there", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
	_, err := uuid.Parse(msgs[1].ID)
	assert.NoError(t, err)
	assert.NotEqual(t, msgs[0].ID, msgs[1].ID)

	require.Len(t, st.reqs, 1)
	assert.Equal(t, "agent-echo", st.reqs[0].Model)
	assert.Empty(t, st.reqs[0].SessionID)
	assert.Equal(t, []kube.CompletionMessage{{Role: "user", Content: "hello"}}, st.reqs[0].Messages)
}

func TestSend_SecondTurnCarriesSessionAndHistory(t *testing.T) {
	st := &fakeStreamer{sessionID: "s1", chunks: []string{"one"}}
	s := NewSession("")
	require.NoError(t, s.Send(context.Background(), st, ref, "first", Options{}))

	st.sessionID = "other"
	st.chunks = []string{"two"}
	require.NoError(t, s.Send(context.Background(), st, ref, "second", Options{Model: "custom"}))

	assert.Equal(t, "s1", s.ID(), "a known session id is kept")
	req := st.reqs[1]
	assert.Equal(t, "s1", req.SessionID)
	assert.Equal(t, "custom", req.Model)
	assert.Equal(t, []kube.CompletionMessage{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "one"},
		{Role: "user", Content: "second"},
	}, req.Messages)
}

func TestSend_ErrorKeepsPartialReply(t *testing.T) {
	boom := errors.New("tunnel closed")
	st := &fakeStreamer{chunks: []string{"par"}, err: boom}
	s := NewSession("preset")

	err := s.Send(context.Background(), st, ref, "hello", Options{})
	assert.ErrorIs(t, err, boom)

	id, msgs := s.Snapshot()
	assert.Equal(t, "preset", id)
	require.Len(t, msgs, 2)
	assert.Equal(t, "par", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
	assert.Equal(t, "tunnel closed", msgs[1].Error)

	st.err = nil
	st.chunks = []string{"ok"}
	require.NoError(t, s.Send(context.Background(), st, ref, "again", Options{}))
	assert.Equal(t, []kube.CompletionMessage{
		{Role: "user", Content: "again"},
	}, st.reqs[1].Messages, "a failed exchange is not sent back")

	require.NoError(t, s.Send(context.Background(), st, ref, "third", Options{}))
	assert.Equal(t, []kube.CompletionMessage{
		{Role: "user", Content: "again"},
		{Role: "assistant", Content: "ok"},
		{Role: "user", Content: "third"},
	}, st.reqs[2].Messages)
}

func TestSend_EmptyReplyDropsExchange(t *testing.T) {
	st := &fakeStreamer{}
	s := NewSession("")
	require.NoError(t, s.Send(context.Background(), st, ref, "first", Options{}))

	st.chunks = []string{"hi"}
	require.NoError(t, s.Send(context.Background(), st, ref, "second", Options{}))
	assert.Equal(t, []kube.CompletionMessage{
		{Role: "user", Content: "second"},
	}, st.reqs[1].Messages)
}

func TestSend_ProgressAndObserver(t *testing.T) {
	st := &fakeStreamer{
		sessionID: "s1",
		chunks:    []string{"done"},
		progress:  []kube.Progress{{Step: 1, MaxSteps: 2, Action: "tool_call", Target: "echo"}},
	}
	var chunks []string
	var doneID string
	s := NewSession("")
	require.NoError(t, s.Send(context.Background(), st, ref, "go", Options{Observer: kube.StreamHandler{
		OnChunk: func(c string) { chunks = append(chunks, c) },
		OnDone:  func(id string) { doneID = id },
	}}))

	_, msgs := s.Snapshot()
	assert.Equal(t, []kube.Progress{{Step: 1, MaxSteps: 2, Action: "tool_call", Target: "echo"}}, msgs[1].Progress)
	assert.Equal(t, []string{"done"}, chunks)
	assert.Equal(t, "s1", doneID)
}

func TestSnapshotIsACopy(t *testing.T) {
	st := &fakeStreamer{chunks: []string{"x"}, progress: []kube.Progress{{Step: 1}}}
	s := NewSession("")
	require.NoError(t, s.Send(context.Background(), st, ref, "go", Options{}))

	_, msgs := s.Snapshot()
	msgs[1].Content = "changed"
	msgs[1].Progress[0].Step = 9

	_, again := s.Snapshot()
	assert.Equal(t, "x", again[1].Content)
	assert.Equal(t, 1, again[1].Progress[0].Step)
}

func TestReset(t *testing.T) {
	st := &fakeStreamer{sessionID: "s1", chunks: []string{"x"}}
	s := NewSession("")
	require.NoError(t, s.Send(context.Background(), st, ref, "go", Options{}))

	s.Reset()
	id, msgs := s.Snapshot()
	assert.Empty(t, id)
	assert.Empty(t, msgs)

	st.sessionID = "s2"
	require.NoError(t, s.Send(context.Background(), st, ref, "again", Options{}))
	assert.Equal(t, "s2", s.ID())
	assert.Len(t, st.reqs[1].Messages, 1)
}

func TestReset_DuringStreamIgnoresOldEvents(t *testing.T) {
	s := NewSession("")
	st := &fakeStreamer{sessionID: "old-session", chunks: []string{"late"}}
	st.midStream = s.Reset
	require.NoError(t, s.Send(context.Background(), st, ref, "go", Options{}))

	id, msgs := s.Snapshot()
	assert.Empty(t, id)
	assert.Empty(t, msgs)

	st.midStream = nil
	st.sessionID = "new-session"
	require.NoError(t, s.Send(context.Background(), st, ref, "again", Options{}))
	id, msgs = s.Snapshot()
	assert.Equal(t, "new-session", id)
	require.Len(t, msgs, 2)
	assert.Equal(t, "late", msgs[1].Content)
	assert.False(t, msgs[1].IsStreaming)
}

func TestRestore_ContinuesHistory(t *testing.T) {
	st := &fakeStreamer{chunks: []string{"three"}}
	s := Restore("s1", []Message{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "two"},
	})
	require.NoError(t, s.Send(context.Background(), st, ref, "again", Options{}))

	assert.Equal(t, "s1", st.reqs[0].SessionID)
	assert.Len(t, st.reqs[0].Messages, 3)
	_, msgs := s.Snapshot()
	assert.Len(t, msgs, 4)
}
