package events

import (
	"sync"

	"flow-observer/src/models"
)

const defaultSubscriberBuffer = 64

// -----------------------------------------------------------------------------

// Broker is an engine's completion-event channel. Each subscriber receives
// every event published after it subscribed; a subscriber whose buffer is
// full misses the event instead of stalling the publisher.
type Broker struct {
	name string

	mu      sync.RWMutex
	subs    map[int]chan models.MEngineEvent
	nextID  int
	closed  bool
	missed  uint64
	history uint64
}

// -----------------------------------------------------------------------------

func NewBroker(name string) *Broker {
	return &Broker{
		name: name,
		subs: make(map[int]chan models.MEngineEvent),
	}
}

// -----------------------------------------------------------------------------

func (b *Broker) Name() string {
	return b.name
}

// -----------------------------------------------------------------------------

// Subscribe registers a listener. The returned cancel func unsubscribes and
// closes the channel.
func (b *Broker) Subscribe(buffer int) (<-chan models.MEngineEvent, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan models.MEngineEvent, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// -----------------------------------------------------------------------------

// Publish fans an event out to every subscriber without blocking.
func (b *Broker) Publish(event models.MEngineEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.history++

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.missed++
		}
	}
}

// -----------------------------------------------------------------------------

// Published returns the number of events published and the number of
// deliveries missed by slow subscribers.
func (b *Broker) Published() (published, missed uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.history, b.missed
}

// -----------------------------------------------------------------------------

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
