// Package events carries agent activity to whoever is watching: the local
// web server, the relay client, log sinks. Producers never block on slow
// consumers; a subscriber that falls behind loses events.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Wire event types. The same frames go to browser clients and the relay.
const (
	TypeChatStarted  = "chat_started"
	TypeChatChunk    = "chat_chunk"
	TypeToolStart    = "tool_start"
	TypeToolEnd      = "tool_end"
	TypeChatComplete = "chat_complete"
	TypeChatError    = "chat_error"
	TypeFileChanged  = "file_changed"
)

// Event is the wire frame. Data holds a type-specific JSON payload.
type Event struct {
	Type      string          `json:"type"`
	ChatID    string          `json:"chatId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

// New builds an event, stamping it and marshalling the payload. A payload
// that cannot marshal becomes an empty Data; events must never fail to send.
func New(typ, chatID string, payload any) Event {
	ev := Event{
		Type:      typ,
		ChatID:    chatID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
	log  *zap.Logger
}

func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{subs: make(map[int]chan Event), log: log}
}

// Subscribe registers a consumer with its own buffer. The returned cancel
// removes the subscription and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if existing, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(existing)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber without blocking. Full buffers
// drop the event for that subscriber only.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.log.Debug("event dropped for slow subscriber",
				zap.Int("subscriber", id), zap.String("type", ev.Type))
		}
	}
}

// SubscriberCount is used by tests and the status endpoint.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
