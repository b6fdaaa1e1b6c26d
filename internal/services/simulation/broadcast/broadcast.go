// Package broadcast fans out simulation events to connected observers.
// Delivery is best effort: slow subscribers lose messages rather than
// stalling the schedulers that publish.
package broadcast

import (
	"sync"
	"time"

	"github.com/mockingbird-labs/minifirm/internal/services/simulation/domain"
)

// MessageType distinguishes plain activity updates from movements.
type MessageType string

const (
	TypeActivity       MessageType = "activity"
	TypeLocationUpdate MessageType = "location_update"
)

// Message is one event pushed to observers.
type Message struct {
	Type        MessageType `json:"type"`
	EntityID    string      `json:"entity_id"`
	Description string      `json:"description"`
	Location    string      `json:"location,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Broadcaster delivers messages to subscribers and replays the most
// recent ones to late joiners.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Message]struct{}
	ring        []Message
	replay      int
	closed      bool
}

// New builds a broadcaster that replays up to replay recent messages to
// each new subscriber.
func New(replay int) *Broadcaster {
	if replay < 0 {
		replay = 0
	}
	return &Broadcaster{
		subscribers: make(map[chan Message]struct{}),
		replay:      replay,
	}
}

// Subscribe registers an observer. Recent messages are queued first, so
// a new subscriber sees context before live events. The returned cancel
// func must be called exactly once.
func (b *Broadcaster) Subscribe(buffer int) (<-chan Message, func()) {
	if buffer < b.replay+1 {
		buffer = b.replay + 1
	}
	ch := make(chan Message, buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	for _, msg := range b.ring {
		ch <- msg
	}
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			if _, ok := b.subscribers[ch]; ok {
				delete(b.subscribers, ch)
				close(ch)
			}
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish records the message for replay and sends it to every
// subscriber without blocking. Full subscriber buffers drop the message.
func (b *Broadcaster) Publish(msg Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.replay > 0 {
		b.ring = append(b.ring, msg)
		if len(b.ring) > b.replay {
			b.ring = b.ring[len(b.ring)-b.replay:]
		}
	}
	for ch := range b.subscribers {
		select {
		case ch <- msg:
		default:
		}
	}
}

// SubscriberCount reports how many observers are attached.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Close detaches every subscriber and rejects further publishes.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subscribers {
		delete(b.subscribers, ch)
		close(ch)
	}
	b.ring = nil
}

// MessagesFromTransition converts one committed transition into push
// messages: one per activity entry, typed by whether the transition
// moved the entity.
func MessagesFromTransition(transition domain.Transition) []Message {
	locations := make(map[string]string, 1+len(transition.Cascaded))
	locations[transition.Entity.ID] = transition.Entity.Location
	for _, cascaded := range transition.Cascaded {
		locations[cascaded.ID] = cascaded.Location
	}

	messages := make([]Message, 0, len(transition.Entries))
	for _, entry := range transition.Entries {
		msg := Message{
			Type:        TypeActivity,
			EntityID:    entry.EntityID,
			Description: entry.Description,
			Timestamp:   entry.CreatedAt,
		}
		if entry.Kind.MovesLocation() {
			msg.Type = TypeLocationUpdate
			msg.Location = locations[entry.EntityID]
		}
		messages = append(messages, msg)
	}
	return messages
}
