// Package eventbus carries chat and resource events between the dashboard
// backend and its browser clients, over NATS JetStream or in process.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event represents a message on the event bus.
type Event struct {
	// Topic is the event topic (e.g., "chat.stream.chunk").
	Topic string `json:"topic"`

	// Timestamp when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Metadata contains key-value metadata such as agent and session.
	Metadata map[string]string `json:"metadata"`

	// Data is the event payload.
	Data json.RawMessage `json:"data"`
}

// EventBus defines the interface for the event bus.
type EventBus interface {
	// Publish sends an event to the bus.
	Publish(ctx context.Context, topic string, event *Event) error

	// Subscribe returns a channel that receives events for the given topic.
	// The channel is closed when ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan *Event, error)

	// Close shuts down the event bus connection.
	Close() error
}

// Topics published by the dashboard backend.
const (
	TopicChatChunk       = "chat.stream.chunk"
	TopicChatProgress    = "chat.stream.progress"
	TopicChatDone        = "chat.stream.done"
	TopicChatError       = "chat.stream.error"
	TopicResourceChanged = "resource.changed"
)

// ChatTopics lists every chat stream topic, for relays that forward all of them.
var ChatTopics = []string{TopicChatChunk, TopicChatProgress, TopicChatDone, TopicChatError}

// Metadata keys.
const (
	MetaAgent     = "agent"
	MetaNamespace = "namespace"
	MetaSession   = "session"
	MetaStream    = "stream"
	MetaKind      = "kind"
	MetaName      = "name"
	MetaAction    = "action"
)

// NewEvent creates a new event with the current timestamp.
func NewEvent(topic string, metadata map[string]string, data interface{}) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshalling event data: %w", err)
	}
	return &Event{
		Topic:     topic,
		Timestamp: time.Now(),
		Metadata:  metadata,
		Data:      raw,
	}, nil
}

// New returns a NATS bus when url is set and an in-process bus otherwise.
func New(url string) (EventBus, error) {
	if url == "" {
		return NewLocalEventBus(), nil
	}
	return NewNATSEventBus(url)
}
