package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	streamName    = "kaos-console"
	subjectPrefix = "kaos."

	// Chat events are only interesting while a browser is watching.
	streamMaxAge = time.Hour
)

// NATSEventBus implements EventBus using NATS JetStream, so several console
// replicas can relay each other's chat streams.
type NATSEventBus struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// NewNATSEventBus connects to url and makes sure the console stream exists.
func NewNATSEventBus(url string) (*NATSEventBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("kaos-console"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}

	stream, err := ensureStream(js)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return &NATSEventBus{conn: nc, js: js, stream: stream}, nil
}

// ensureStream creates or updates the stream, retrying while NATS may
// still be starting next to the console.
func ensureStream(js jetstream.JetStream) (jetstream.Stream, error) {
	cfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subjectPrefix + ">"},
		Retention: jetstream.LimitsPolicy,
		MaxAge:    streamMaxAge,
		Storage:   jetstream.MemoryStorage,
		Replicas:  1,
	}
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stream, err := js.CreateOrUpdateStream(ctx, cfg)
		cancel()
		if err == nil {
			return stream, nil
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	return nil, fmt.Errorf("creating JetStream stream %s: %w", streamName, lastErr)
}

// Publish sends an event to the stream.
func (n *NATSEventBus) Publish(ctx context.Context, topic string, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}

	subject := topicToSubject(topic)
	if _, err := n.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

// Subscribe creates an ephemeral consumer delivering new events on topic.
// The consumer is removed by the server once ctx is done and it goes idle.
func (n *NATSEventBus) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	subject := topicToSubject(topic)

	consumer, err := n.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject:     subject,
		AckPolicy:         jetstream.AckExplicitPolicy,
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		InactiveThreshold: time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("creating consumer for %s: %w", subject, err)
	}

	ch := make(chan *Event, 64)
	go func() {
		defer close(ch)
		for {
			if ctx.Err() != nil {
				return
			}
			batch, err := consumer.Fetch(16, jetstream.FetchMaxWait(2*time.Second))
			if err != nil {
				continue
			}
			for msg := range batch.Messages() {
				var event Event
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					// Not ours; drop it rather than redeliver forever.
					_ = msg.Term()
					continue
				}
				select {
				case ch <- &event:
					_ = msg.Ack()
				case <-ctx.Done():
					_ = msg.Nak()
					return
				}
			}
		}
	}()
	return ch, nil
}

// Close drains the connection.
func (n *NATSEventBus) Close() error {
	return n.conn.Drain()
}

// topicToSubject converts a dotted topic (e.g. "chat.stream.chunk") to a
// NATS subject under the console prefix (e.g. "kaos.chat.stream.chunk").
func topicToSubject(topic string) string {
	return subjectPrefix + topic
}
