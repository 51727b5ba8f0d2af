package notify

import (
	"context"
	"sync"
)

// Hub fans intents out to in-process subscribers. A subscriber whose buffer is
// full misses the intent instead of blocking the publisher.
type Hub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Intent
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Intent)}
}

// Subscribe returns a channel of intents and a function that unsubscribes and
// closes it.
func (h *Hub) Subscribe(buffer int) (<-chan Intent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Intent, buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
}

func (h *Hub) Publish(_ context.Context, in Intent) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, ch := range h.subs {
		select {
		case ch <- in:
		default:
		}
	}
	return nil
}

func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
