// Package events distributes request lifecycle events to in-process and
// WebSocket subscribers.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types.
const (
	TypeQueued  = "queued"
	TypeStarted = "started"
	TypePhase   = "phase"
	TypeDone    = "done"
	TypeFailed  = "failed"
)

// Event is one observable step in a relay request's lifecycle.
type Event struct {
	RequestID string    `json:"request_id"`
	Type      string    `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const subscriberBuffer = 32

// Hub fans events out to subscribers. Publishing never blocks: a subscriber
// that falls behind loses events rather than stalling the relay pipeline.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	logger *slog.Logger
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[chan Event]struct{}),
		logger: logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel function must be
// called exactly once; it unregisters and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish stamps and delivers an event to all current subscribers.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Warn("Event subscriber full, dropping event",
				"request_id", ev.RequestID,
				"type", ev.Type,
			)
		}
	}
}
