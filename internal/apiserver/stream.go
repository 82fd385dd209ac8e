package apiserver

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alexsjones/kaos-console/internal/eventbus"
)

const wsWriteTimeout = 10 * time.Second

// handleStream relays chat events from the event bus to a WebSocket. The
// optional agent and session query parameters filter the events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error(err, "failed to upgrade websocket")
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	agent := r.URL.Query().Get("agent")
	sessionID := r.URL.Query().Get("session")

	merged := make(chan *eventbus.Event, 64)
	for _, topic := range eventbus.ChatTopics {
		events, err := s.eventBus.Subscribe(ctx, topic)
		if err != nil {
			s.log.Error(err, "failed to subscribe to events", "topic", topic)
			return
		}
		go func() {
			for ev := range events {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	// Read loop (handle client messages / keep-alive)
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	// Write loop (forward events to client)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-merged:
			if agent != "" && ev.Metadata[eventbus.MetaAgent] != agent {
				continue
			}
			if sessionID != "" && ev.Metadata[eventbus.MetaSession] != sessionID {
				continue
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}
}
