package eventbus

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by a LocalEventBus after Close.
var ErrClosed = errors.New("event bus closed")

// LocalEventBus fans events out to subscribers in the same process. A
// subscriber that falls behind by more than its buffer loses events rather
// than stalling the publisher.
type LocalEventBus struct {
	mu     sync.Mutex
	subs   map[string]map[chan *Event]struct{}
	closed bool
}

// NewLocalEventBus returns an empty in-process bus.
func NewLocalEventBus() *LocalEventBus {
	return &LocalEventBus{subs: map[string]map[chan *Event]struct{}{}}
}

func (b *LocalEventBus) Publish(ctx context.Context, topic string, event *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for ch := range b.subs[topic] {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

func (b *LocalEventBus) Subscribe(ctx context.Context, topic string) (<-chan *Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	ch := make(chan *Event, 64)
	if b.subs[topic] == nil {
		b.subs[topic] = map[chan *Event]struct{}{}
	}
	b.subs[topic][ch] = struct{}{}

	go func() {
		<-ctx.Done()
		b.unsubscribe(topic, ch)
	}()
	return ch, nil
}

func (b *LocalEventBus) unsubscribe(topic string, ch chan *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[topic][ch]; !ok {
		return
	}
	delete(b.subs[topic], ch)
	close(ch)
}

// Close closes every subscription.
func (b *LocalEventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, set := range b.subs {
		for ch := range set {
			close(ch)
		}
	}
	b.subs = map[string]map[chan *Event]struct{}{}
	return nil
}
