package events

import (
	"sync"

	"p2plend/core/types"
)

// Hub fans committed events out to subscribers. Slow subscribers lose events
// rather than stalling the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]chan types.Event
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan types.Event)}
}

// Subscribe registers a subscriber with the given channel capacity. The
// returned cancel function unregisters it and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan types.Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan types.Event, buffer)
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers evts to every subscriber and returns how many deliveries
// were dropped.
func (h *Hub) Publish(evts ...types.Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, evt := range evts {
		for _, ch := range h.subs {
			select {
			case ch <- evt:
			default:
				dropped++
			}
		}
	}
	return dropped
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
