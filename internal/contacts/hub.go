package contacts

import "sync"

// Hub fans change notifications out to per-owner subscribers. A slow
// subscriber misses nothing: pending notifications coalesce into one.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan struct{}]struct{})}
}

// Publish signals every subscriber of ownerID.
func (h *Hub) Publish(ownerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[ownerID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers for ownerID.
func (h *Hub) Subscribers(ownerID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[ownerID])
}

func (h *Hub) subscribe(ownerID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	h.mu.Lock()
	set, ok := h.subs[ownerID]
	if !ok {
		set = make(map[chan struct{}]struct{})
		h.subs[ownerID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[ownerID], ch)
			if len(h.subs[ownerID]) == 0 {
				delete(h.subs, ownerID)
			}
		})
	}
}
