package kube

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBuffer_CarriesPartialLines(t *testing.T) {
	var b lineBuffer

	assert.Empty(t, b.push([]byte(`data: {"choi`)))
	assert.Equal(t, []string{`data: {"choices":[]}`, ""}, b.push([]byte("ces\":[]}\n\n")))
	assert.Equal(t, []string{"a", "b"}, b.push([]byte("a\nb\nc")))
	assert.Equal(t, "c", b.rest())
	assert.Equal(t, "", b.rest())
}

func TestParseSSELine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want sseEvent
		ok   bool
	}{
		{"content", `data: {"choices":[{"delta":{"content":"Hi"}}]}`, sseEvent{content: "Hi"}, true},
		{"session", `data: {"session_id":"s1","choices":[{"delta":{}}]}`, sseEvent{sessionID: "s1"}, true},
		{"done", "data: [DONE]", sseEvent{done: true}, true},
		{"done with carriage return", "data: [DONE]\r", sseEvent{done: true}, true},
		{"comment", ": keep-alive", sseEvent{}, false},
		{"event field", "event: message", sseEvent{}, false},
		{"blank", "", sseEvent{}, false},
		{"malformed json", "data: {not json", sseEvent{}, false},
		{"no choices", `data: {"id":"x"}`, sseEvent{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseSSELine(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSSELine_Progress(t *testing.T) {
	got, ok := parseSSELine(`data: {"progress":{"step":2,"max_steps":5,"action":"tool_call","target":"echo"}}`)
	assert.True(t, ok)
	assert.Equal(t, &Progress{Step: 2, MaxSteps: 5, Action: "tool_call", Target: "echo"}, got.progress)
}
