package core

import (
	"log/slog"
	"sync"
)

// Event types
const (
	EventStatus  = "status"
	EventCommand = "cmd"
	EventCatalog = "catalog"
)

// Event is a broadcast message. It serializes as {"type": ..., "payload": ...}.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Subscriber receives broadcast events. Deliver is called synchronously from
// Publish and must not block; a subscriber that cannot keep up should drop
// the event and return an error.
type Subscriber interface {
	Deliver(Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(Event) error

func (f SubscriberFunc) Deliver(e Event) error { return f(e) }

// Broadcaster fans events out to every registered subscriber. A failing or
// panicking subscriber never affects the others.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[uint64]Subscriber
	nextID   uint64
	logger   *slog.Logger
	observer Observer
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs:     make(map[uint64]Subscriber),
		logger:   logger,
		observer: nopObserver{},
	}
}

// SetObserver installs o to be told about every published event.
func (b *Broadcaster) SetObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	b.observer = o
}

// Subscribe registers s for all events.
// Returns an unsubscribe function; calling it more than once is harmless.
func (b *Broadcaster) Subscribe(s Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Len reports the number of registered subscribers.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers e to a snapshot of the current subscribers and returns
// how many accepted it.
func (b *Broadcaster) Publish(e Event) int {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	observer := b.observer
	b.mu.RUnlock()

	delivered := 0
	for _, s := range subs {
		if b.deliver(s, e) {
			delivered++
		}
	}
	observer.ObserveEvent(e.Type, delivered)
	return delivered
}

func (b *Broadcaster) deliver(s Subscriber, e Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panic", "type", e.Type, "panic", r)
			ok = false
		}
	}()
	if err := s.Deliver(e); err != nil {
		b.logger.Debug("subscriber dropped event", "type", e.Type, "error", err)
		return false
	}
	return true
}
