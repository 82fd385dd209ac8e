package kube

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var agentRef = ServiceRef{Name: "agent-echo"}

func TestStream_SplitLineFiresOnce(t *testing.T) {
	c, body, _ := streamClient(
		`data: {"choices":[{"delta":{"content":"Hel`,
		`lo"}}]}`+"\n",
		"data: [DONE]\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{Model: "m"}, rec.handler())

	assert.Equal(t, []string{"Hello"}, rec.chunks)
	assert.Len(t, rec.done, 1)
	assert.Empty(t, rec.errs)
	assert.True(t, body.closed.Load())
}

func TestStream_Scenario(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"session_id":"s1","choices":[{"delta":{"content":"Hi"}}]}`+"\n\n",
		`data: {"choices":[{"delta":{"content":" there"}}]}`+"\n\n",
		"data: [DONE]\n\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{Model: "m"}, rec.handler())

	assert.Equal(t, []string{"s1"}, rec.sessions)
	assert.Equal(t, []string{"Hi", " there"}, rec.chunks)
	assert.Equal(t, []string{"s1"}, rec.done)
	assert.Empty(t, rec.errs)
}

func TestStream_FirstSessionWins(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"session_id":"first","choices":[]}`+"\n",
		`data: {"session_id":"second","choices":[]}`+"\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	assert.Equal(t, []string{"first"}, rec.sessions)
	assert.Equal(t, []string{"first"}, rec.done)
}

func TestStream_MalformedLineSkipped(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"choices":[{"delta":{"content":"a"}}]}`+"\n",
		"data: {broken\n",
		": comment\n",
		`data: {"choices":[{"delta":{"content":"b"}}]}`+"\n",
		"data: [DONE]\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	assert.Equal(t, []string{"a", "b"}, rec.chunks)
	assert.Len(t, rec.done, 1)
	assert.Empty(t, rec.errs)
}

func TestStream_DoneStopsProcessing(t *testing.T) {
	c, _, _ := streamClient(
		"data: [DONE]\n",
		`data: {"choices":[{"delta":{"content":"late"}}]}`+"\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	assert.Empty(t, rec.chunks)
	assert.Len(t, rec.done, 1)
}

func TestStream_EOFWithoutDoneProcessesTail(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"choices":[{"delta":{"content":"a"}}]}`+"\n",
		`data: {"choices":[{"delta":{"content":"tail"}}]}`,
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	assert.Equal(t, []string{"a", "tail"}, rec.chunks)
	assert.Equal(t, []string{""}, rec.done)
	assert.Empty(t, rec.errs)
}

func TestStream_Progress(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"progress":{"step":1,"max_steps":3,"action":"tool_call","target":"echo"}}`+"\n",
		"data: [DONE]\n",
	)
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	require.Len(t, rec.progress, 1)
	assert.Equal(t, "echo", rec.progress[0].Target)
}

func TestStream_RequestBody(t *testing.T) {
	c, _, seen := streamClient("data: [DONE]\n")
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{
		Model:     "agent",
		Messages:  []CompletionMessage{{Role: "user", Content: "hi"}},
		SessionID: "s1",
	}, rec.handler())

	assert.Equal(t, http.MethodPost, seen.Method)
	assert.Equal(t, "/api/v1/namespaces/demo/services/agent-echo:8000/proxy/v1/chat/completions", seen.URL.Path)
	assert.Equal(t, "text/event-stream", seen.Header.Get("Accept"))
	assert.Equal(t, "1", seen.Header.Get(HeaderNgrokSkipWarning))

	var body map[string]any
	require.NoError(t, json.NewDecoder(seen.Body).Decode(&body))
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "s1", body["session_id"])
	assert.Equal(t, "agent", body["model"])
	assert.NotContains(t, body, "temperature")
}

func TestStream_Non2xxIsError(t *testing.T) {
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return stringResponse(r, http.StatusBadGateway, "upstream unavailable\n"), nil
	})}
	c := New(Config{BaseURL: "http://cluster.test"}, WithHTTPClient(hc))
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	require.Len(t, rec.errs, 1)
	assert.Empty(t, rec.done)
	var streamErr *ChatStreamError
	require.ErrorAs(t, rec.errs[0], &streamErr)
	assert.Equal(t, http.StatusBadGateway, streamErr.StatusCode)
	assert.Contains(t, streamErr.Error(), "upstream unavailable")
}

func TestStream_TransportErrorIsError(t *testing.T) {
	boom := errors.New("connection reset")
	hc := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, boom
	})}
	c := New(Config{BaseURL: "http://cluster.test"}, WithHTTPClient(hc))
	var rec recorder
	c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, rec.handler())

	require.Len(t, rec.errs, 1)
	assert.ErrorIs(t, rec.errs[0], boom)
	assert.Empty(t, rec.done)
}

func TestStream_CancelEndsWithDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, `data: {"session_id":"s9","choices":[{"delta":{"content":"first"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := New(Config{BaseURL: srv.URL})
	var rec recorder
	h := rec.handler()
	onChunk := h.OnChunk
	h.OnChunk = func(s string) {
		onChunk(s)
		cancel()
	}
	c.StreamChatCompletion(ctx, agentRef, ChatRequest{}, h)

	assert.Equal(t, []string{"first"}, rec.chunks)
	assert.Equal(t, []string{"s9"}, rec.done)
	assert.Empty(t, rec.errs)
}

func TestStream_NilCallbacksAreSkipped(t *testing.T) {
	c, _, _ := streamClient(
		`data: {"session_id":"s","progress":{"step":1,"action":"x"},"choices":[{"delta":{"content":"a"}}]}`+"\n",
	)
	assert.NotPanics(t, func() {
		c.StreamChatCompletion(context.Background(), agentRef, ChatRequest{}, StreamHandler{})
	})
}
