package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Message wraps a payload with its topic and publish time.
type Message struct {
	Event   Event
	Time    time.Time
	Payload any
}

// Bus is a lightweight pub/sub broker using channels. Publishing never blocks:
// slow subscribers lose messages and the drop is counted.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan Message
	dropped atomic.Uint64
	now     func() time.Time
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan Message), now: time.Now}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Message, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Message, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish fans the payload out to subscribers of e. A nil bus is a no-op.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	msg := Message{Event: e, Time: b.now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- msg:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
