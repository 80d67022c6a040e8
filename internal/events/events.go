package events

import (
	"sync"

	"github.com/zsprackett/cursor-balance/internal/badge"
	"github.com/zsprackett/cursor-balance/internal/balance"
)

const (
	TypeSnapshot       = "snapshot"
	TypeBalanceUpdated = "balance_updated"
	TypeDetailedUsage  = "detailed_usage"
	TypeBadge          = "badge"
	TypeLoggedOut      = "logged_out"
)

// Event is a real-time update pushed to local clients.
type Event struct {
	Type   string          `json:"type"`
	Badge  *badge.Badge    `json:"badge,omitempty"`
	Record *balance.Record `json:"record,omitempty"`
}

// Broadcaster sends events to connected clients.
// A nil Broadcaster is safe to use -- Broadcast becomes a no-op.
type Broadcaster interface {
	Broadcast(e Event)
}

// Hub fans events out to in-process subscribers. Slow subscribers drop
// events rather than block the sender.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

func (h *Hub) Broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a function that releases it.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Multi forwards to several broadcasters, skipping nil ones.
type Multi []Broadcaster

func (m Multi) Broadcast(e Event) {
	for _, b := range m {
		if b != nil {
			b.Broadcast(e)
		}
	}
}
