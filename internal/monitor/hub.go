// Package monitor implements the debug/introspection HTTP surface: a
// read-only view into the feed handler's state, never a GUI.
//
// Built as an http.Server plus a broadcast hub plus a JSON snapshot
// endpoint, repurposed from a trading dashboard to /health, /api/books, and
// an SSE /api/events stream — a register/unregister/broadcast hub shape
// adapted from websocket clients to SSE subscribers.
package monitor

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is one normalized event forwarded to SSE subscribers.
type Event struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

type subscriber struct {
	send chan []byte
}

// Hub fans normalized events out to every connected SSE subscriber.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]bool
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[*subscriber]bool),
		logger:      logger.With("component", "monitor-hub"),
	}
}

func (h *Hub) register() *subscriber {
	s := &subscriber{send: make(chan []byte, 256)}
	h.mu.Lock()
	h.subscribers[s] = true
	h.mu.Unlock()
	return s
}

func (h *Hub) unregister(s *subscriber) {
	h.mu.Lock()
	if _, ok := h.subscribers[s]; ok {
		delete(h.subscribers, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// Broadcast marshals evt and pushes it to every connected subscriber,
// dropping it for any subscriber whose buffer is full rather than blocking.
func (h *Hub) Broadcast(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subscribers {
		select {
		case s.send <- data:
		default:
			h.logger.Warn("subscriber channel full, dropping event")
		}
	}
}
