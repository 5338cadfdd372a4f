package events

import (
	"log/slog"
	"sync"
)

// Fanout receives every published payload for delivery outside the
// process. Implemented by ConnectionManager.
type Fanout interface {
	Broadcast(topic string, payload []byte)
}

// Bus is an in-process publish/subscribe hub. Publishers never block:
// a subscriber that falls behind its channel buffer loses events (the
// feed is best-effort progress reporting, not a durable log).
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan []byte // topic → subscriber id → channel
	nextID int
	fanout Fanout
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan []byte)}
}

// SetFanout attaches an external delivery sink (the WebSocket
// ConnectionManager). Called once during startup; nil detaches.
func (b *Bus) SetFanout(f Fanout) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fanout = f
}

// Subscribe registers an in-process subscriber for a topic. The returned
// cancel function removes the subscription and closes the channel; it is
// safe to call more than once.
func (b *Bus) Subscribe(topic string, buffer int) (<-chan []byte, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan []byte, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]chan []byte)
	}
	b.subs[topic][id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			// Closing under the write lock is safe: Publish only sends
			// while holding the read lock, so no send can race the close.
			b.mu.Lock()
			if subs, ok := b.subs[topic]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, topic)
				}
			}
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers a payload to every subscriber of the topic and to the
// attached fanout. Sends to full subscriber channels are dropped.
func (b *Bus) Publish(topic string, payload []byte) {
	b.mu.RLock()
	for _, ch := range b.subs[topic] {
		// Non-blocking, so holding the read lock here is cheap.
		select {
		case ch <- payload:
		default:
			slog.Warn("Dropping event for slow subscriber", "topic", topic)
		}
	}
	f := b.fanout
	b.mu.RUnlock()

	if f != nil {
		f.Broadcast(topic, payload)
	}
}

// SubscriberCount returns the number of in-process subscribers on a topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
