package kube

import (
	"bytes"
	"encoding/json"
	"strings"
)

// lineBuffer splits a byte stream into lines across arbitrary read
// boundaries. The trailing fragment after the last newline is held until a
// later push completes it.
type lineBuffer struct {
	buf []byte
}

// push appends p and returns the lines it completed, without their newline.
func (b *lineBuffer) push(p []byte) []string {
	b.buf = append(b.buf, p...)
	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.buf[:i]))
		b.buf = b.buf[i+1:]
	}
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return lines
}

// rest returns and clears the incomplete trailing fragment.
func (b *lineBuffer) rest() string {
	s := string(b.buf)
	b.buf = nil
	return s
}

const (
	sseDataPrefix = "data: "
	sseDone       = "[DONE]"
)

// Progress is a reasoning-loop step reported by an agent while it streams.
type Progress struct {
	Step     int    `json:"step"`
	MaxSteps int    `json:"max_steps,omitempty"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
}

// completionChunk is the subset of an OpenAI-compatible stream payload the
// client reads.
type completionChunk struct {
	SessionID string `json:"session_id"`
	Choices   []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Progress *Progress `json:"progress"`
}

// sseEvent is what one data line carried.
type sseEvent struct {
	done      bool
	sessionID string
	content   string
	progress  *Progress
}

// parseSSELine interprets one line of the stream. ok is false for lines that
// carry nothing: comments, keep-alives, blank lines and payloads that are not
// valid JSON.
func parseSSELine(line string) (ev sseEvent, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, sseDataPrefix) {
		return sseEvent{}, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
	if payload == sseDone {
		return sseEvent{done: true}, true
	}
	var chunk completionChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return sseEvent{}, false
	}
	ev.sessionID = chunk.SessionID
	if len(chunk.Choices) > 0 {
		ev.content = chunk.Choices[0].Delta.Content
	}
	ev.progress = chunk.Progress
	return ev, true
}
