// Package bus is the in-process event channel between the session store,
// the participant agent and the terminal front-ends.
package bus

import (
	"strings"
	"sync"
)

const defaultBufferSize = 64

// Event is a message published on the bus
type Event struct {
	Topic   string
	Payload any
}

// Subscription receives events whose topic starts with its prefix
type Subscription struct {
	id     int
	prefix string
	ch     chan Event
}

// Ch returns the channel to receive events on
func (s *Subscription) Ch() <-chan Event {
	return s.ch
}

// Bus is a topic-prefix pub/sub. Delivery never blocks the publisher:
// a subscriber with a full buffer misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
}

// New creates an empty bus
func New() *Bus {
	return &Bus{subs: make(map[int]*Subscription)}
}

// Subscribe registers interest in topics with the given prefix.
// An empty prefix matches everything.
func (b *Bus) Subscribe(prefix string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:     b.nextID,
		prefix: prefix,
		ch:     make(chan Event, defaultBufferSize),
	}
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes the subscription and closes its channel
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; ok {
		delete(b.subs, sub.id)
		close(sub.ch)
	}
}

// Publish fans the event out to every matching subscriber.
// Publishing on a nil bus is a no-op so components can run without one.
func (b *Bus) Publish(topic string, payload any) {
	if b == nil {
		return
	}
	ev := Event{Topic: topic, Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if sub.prefix != "" && !strings.HasPrefix(topic, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// SubscriberCount returns the number of live subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
