package kube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alexsjones/kaos-console/internal/metrics"
)

// ChatCompletionsPath is the OpenAI-compatible endpoint served by agents
// and ModelAPIs.
const ChatCompletionsPath = "/v1/chat/completions"

// CompletionMessage is one message of a chat completion request.
type CompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a streaming chat completion.
type ChatRequest struct {
	Model       string              `json:"model"`
	Messages    []CompletionMessage `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	SessionID   string              `json:"session_id,omitempty"`
}

// StreamHandler receives the events of a streaming chat completion. Nil
// callbacks are skipped. Exactly one of OnDone and OnError is called.
type StreamHandler struct {
	// OnChunk receives each content delta in arrival order.
	OnChunk func(content string)
	// OnSession is called once, with the first session id the server sends.
	OnSession func(sessionID string)
	// OnProgress receives reasoning-loop steps.
	OnProgress func(p Progress)
	// OnDone is called when the stream completes, is exhausted, or is
	// cancelled through the context. sessionID is empty if none was sent.
	OnDone func(sessionID string)
	// OnError is called when the request fails or the stream breaks.
	OnError func(err error)
}

// ChatStreamError wraps any failure of a streaming chat completion.
type ChatStreamError struct {
	// StatusCode is set when the service answered non-2xx.
	StatusCode int
	Err        error
}

func (e *ChatStreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat stream failed (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("chat stream failed: %v", e.Err)
}

func (e *ChatStreamError) Unwrap() error { return e.Err }

type chatStream struct {
	h         StreamHandler
	sessionID string
}

// handle processes one line and reports whether the stream is finished.
func (s *chatStream) handle(line string) bool {
	ev, ok := parseSSELine(line)
	if !ok {
		return false
	}
	if ev.done {
		return true
	}
	if ev.sessionID != "" && s.sessionID == "" {
		s.sessionID = ev.sessionID
		if s.h.OnSession != nil {
			s.h.OnSession(ev.sessionID)
		}
	}
	if ev.progress != nil && s.h.OnProgress != nil {
		s.h.OnProgress(*ev.progress)
	}
	if ev.content != "" {
		metrics.ChatChunksTotal.Inc()
		if s.h.OnChunk != nil {
			s.h.OnChunk(ev.content)
		}
	}
	return false
}

func (s *chatStream) done(outcome string) {
	metrics.ChatStreamsTotal.WithLabelValues(outcome).Inc()
	if s.h.OnDone != nil {
		s.h.OnDone(s.sessionID)
	}
}

func (s *chatStream) fail(err error) {
	metrics.ChatStreamsTotal.WithLabelValues("error").Inc()
	if s.h.OnError != nil {
		s.h.OnError(err)
	}
}

// StreamChatCompletion posts req to the service's chat completions endpoint
// with stream enabled and decodes the Server-Sent Events as they arrive.
// It returns once OnDone or OnError has been called. Cancelling ctx closes
// the stream promptly and ends it with OnDone.
func (c *Client) StreamChatCompletion(ctx context.Context, ref ServiceRef, req ChatRequest, h StreamHandler) {
	s := &chatStream{h: h}

	body, err := json.Marshal(struct {
		ChatRequest
		Stream bool `json:"stream"`
	}{req, true})
	if err != nil {
		s.fail(&ChatStreamError{Err: fmt.Errorf("marshalling chat request: %w", err)})
		return
	}

	resp, err := c.ProxyService(ctx, ref, ChatCompletionsPath, ProxyRequest{
		Method: http.MethodPost,
		Header: http.Header{"Accept": []string{"text/event-stream"}},
		Body:   bytes.NewReader(body),
	})
	if err != nil {
		if ctx.Err() != nil {
			s.done("canceled")
			return
		}
		s.fail(&ChatStreamError{Err: err})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(text))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		s.fail(&ChatStreamError{StatusCode: resp.StatusCode, Err: errors.New(msg)})
		return
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		s.fail(&ChatStreamError{Err: errors.New("response has no body")})
		return
	}

	var lines lineBuffer
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			for _, line := range lines.push(buf[:n]) {
				if s.handle(line) {
					s.done("done")
					return
				}
			}
		}
		if readErr == io.EOF {
			if tail := lines.rest(); tail != "" {
				s.handle(tail)
			}
			s.done("done")
			return
		}
		if readErr != nil {
			if ctx.Err() != nil {
				s.done("canceled")
				return
			}
			s.fail(&ChatStreamError{Err: fmt.Errorf("reading chat stream: %w", readErr)})
			return
		}
	}
}
