// Package bus fans outbound notifications out to every attached
// command carrier. Using channel-based subscribers keeps the bus
// transport-agnostic and testable without a real serial port or
// WebSocket on the other end.
package bus

import "sync"

type subscriber struct {
	ch chan []byte
}

// Bus distributes notification bytes to all subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New constructs a ready Bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a carrier. Returns the receive channel and an
// unsubscribe function that must be called on carrier teardown (it
// closes the channel).
func (b *Bus) Subscribe() (<-chan []byte, func()) {
	s := &subscriber{ch: make(chan []byte, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish delivers one notification to all current subscribers. Slow
// consumers with a full buffer are skipped so the control loop never
// stalls on a wedged carrier.
func (b *Bus) Publish(msg []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- msg:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
