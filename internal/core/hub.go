package core

import (
	"sync"
	"sync/atomic"

	"github.com/olyamironova/matching-core/internal/domain"
)

// Subscription receives engine events. Events are dropped rather than
// queued when the buffer is full.
type Subscription struct {
	C       <-chan domain.EngineEvent
	ch      chan domain.EngineEvent
	dropped atomic.Uint64
}

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

type hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) subscribe(buffer int) *Subscription {
	ch := make(chan domain.EngineEvent, buffer)
	sub := &Subscription{C: ch, ch: ch}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.ch)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(ev domain.EngineEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	for sub := range h.subs {
		close(sub.ch)
		delete(h.subs, sub)
	}
	h.mu.Unlock()
}
