package events

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/taskhive/taskhive/internal/otel"
	"github.com/taskhive/taskhive/pkg/models"
)

// Hub fans worker events out to any number of subscribers. Slow subscribers
// drop events instead of applying backpressure to workers; per-subscriber
// delivery preserves per-worker emit order.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Subscribe() chan Event {
	ch := make(chan Event, models.DefaultHubChannelBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	otel.AddSubscriber()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
		otel.RemoveSubscriber()
	}
	h.mu.Unlock()
}

func (h *Hub) Publish(ev Event) {
	otel.RecordEventPublished(context.Background(), ev.Type)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Drop if subscriber is too slow; prevents global backpressure.
		}
	}
}

// MarshalJSONEvent renders an event the way external feeds consume it.
// Returns nil on marshal failure.
func MarshalJSONEvent(ev Event) []byte {
	b, err := json.Marshal(ev)
	if err != nil {
		return nil
	}
	return b
}

// MarshalToolInput serializes a tool input for persistence and display.
// Returns "{}" on marshal failure so stored commands are always JSON.
func MarshalToolInput(input map[string]any) []byte {
	if len(input) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(input)
	if err != nil {
		return []byte("{}")
	}
	return b
}
