package service

import (
	"testing"
	"time"

	"slackline/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventHubFanOut(t *testing.T) {
	hub := NewEventHub()

	first, cancelFirst := hub.Subscribe()
	second, cancelSecond := hub.Subscribe()
	defer cancelFirst()
	defer cancelSecond()

	hub.Publish(Event{MessageID: "msg-1", ChannelID: "C123", Status: models.StatusSent})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case e := <-ch:
			assert.Equal(t, "msg-1", e.MessageID)
			assert.Equal(t, models.StatusSent, e.Status)
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestEventHubCancelClosesChannel(t *testing.T) {
	hub := NewEventHub()

	events, cancel := hub.Subscribe()
	cancel()

	_, ok := <-events
	assert.False(t, ok)

	// Cancel twice is harmless, and publishing after cancel reaches nobody
	cancel()
	hub.Publish(Event{MessageID: "msg-1"})
}

func TestEventHubSlowSubscriberLosesEvents(t *testing.T) {
	hub := NewEventHub()

	events, cancel := hub.Subscribe()
	defer cancel()

	// Overfill the buffer without draining; Publish must never block
	done := make(chan struct{})
	go func() {
		for i := 0; i < eventBufferSize*2; i++ {
			hub.Publish(Event{MessageID: "msg"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	require.Len(t, events, eventBufferSize)
}
