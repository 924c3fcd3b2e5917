// Package bus is the process-wide publish/subscribe hub. The workflow model
// and the executor publish state-change notifications into it; the HTTP
// notification stream and the TUI consume them. There is no persistence:
// delivery is best-effort, ordered per emitter, and a slow subscriber drops
// events rather than blocking the bus.
package bus

import (
	"sync"
	"time"
)

// Event type names published on the bus.
const (
	TaskCreated       = "task:created"
	TaskUpdated       = "task:updated"
	QueueCreated      = "queue:created"
	QueueDeleted      = "queue:deleted"
	QueuesReordered   = "queue:reordered"
	TransitionCreated = "transition:created"
	TransitionDeleted = "transition:deleted"
	ExecutorStatus    = "executor:status"
	GatewayStatus     = "gateway:status"
)

// Event is one notification.
type Event struct {
	Type      string    `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Time      time.Time `json:"time"`
}

// Subscription is one subscriber's queue. Events arrive on C in the order
// the bus received them. Unsubscribe is idempotent.
type Subscription struct {
	C <-chan Event

	bus  *Bus
	ch   chan Event
	id   int
	once sync.Once
}

// Unsubscribe removes the subscription and closes C. Safe to call more
// than once and safe to call concurrently with Emit.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
		close(s.ch)
	})
}

// Bus fans events out to subscriber channels.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// New creates a bus. buffer is the per-subscriber channel capacity; values
// below 1 fall back to 64.
func New(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{subs: make(map[int]chan Event), buffer: buffer}
}

// Subscribe registers a new subscriber.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	return &Subscription{C: ch, bus: b, ch: ch, id: id}
}

// Emit delivers the event to every current subscriber. The send is
// non-blocking: a full subscriber channel drops the event for that
// subscriber only.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Publish is shorthand for Emit with the common fields.
func (b *Bus) Publish(eventType, projectID string, payload any) {
	b.Emit(Event{Type: eventType, ProjectID: projectID, Payload: payload})
}
