package service

import (
	"sync"
	"time"

	"slackline/internal/models"
)

// Event is a status change pushed to dashboard subscribers, replacing the
// manual refetch loop the UI would otherwise need.
type Event struct {
	MessageID  string        `json:"messageId"`
	ChannelID  string        `json:"channelId"`
	Status     models.Status `json:"status"`
	ExternalID string        `json:"externalId,omitempty"`
	At         time.Time     `json:"at"`
}

const eventBufferSize = 16

// EventHub fans status events out to subscribers. Publishing never blocks;
// a subscriber that falls behind loses events rather than stalling delivery.
type EventHub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func NewEventHub() *EventHub {
	return &EventHub{
		subs: make(map[int]chan Event),
	}
}

// Subscribe registers a listener. The returned cancel func must be called to
// release the subscription.
func (h *EventHub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, eventBufferSize)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers an event to every subscriber with room in its buffer.
func (h *EventHub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
