package radio

import (
	"sync"
	"time"
)

// Sim models one radio chip in memory. Handles produced by its Factory
// share the chip, matching how re-instantiated driver objects still
// talk to the same physical silicon. The Accept hook decides which
// parameter combinations "work", which is how tests script bringup
// failures; linked Sims exchange frames over an in-memory air channel.
type Sim struct {
	mu     sync.Mutex
	accept func(Params) Status
	params Params
	begun  bool
	rx     chan []byte
	peers  []*Sim

	// BeginCalls records every attempted parameter set, in order.
	BeginCalls []Params
}

// NewSim returns a chip that accepts every parameter combination.
func NewSim() *Sim {
	return &Sim{rx: make(chan []byte, 64)}
}

// SetAccept installs the bringup acceptance hook. nil restores
// accept-everything.
func (s *Sim) SetAccept(fn func(Params) Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accept = fn
}

// LinkSims cross-connects chips so each Transmit reaches the others.
func LinkSims(sims ...*Sim) {
	for _, a := range sims {
		for _, b := range sims {
			if a != b {
				a.peers = append(a.peers, b)
			}
		}
	}
}

// Inject delivers raw bytes to this chip's receive queue, as if they
// arrived over the air.
func (s *Sim) Inject(raw []byte) {
	select {
	case s.rx <- append([]byte(nil), raw...):
	default:
	}
}

// Factory yields driver handles bound to this chip.
func (s *Sim) Factory() Factory {
	return func() Driver { return &simHandle{chip: s} }
}

// simHandle is one driver instance over the shared chip.
type simHandle struct {
	chip   *Sim
	closed bool
}

func (h *simHandle) Begin(p Params) Status {
	c := h.chip
	c.mu.Lock()
	defer c.mu.Unlock()
	c.BeginCalls = append(c.BeginCalls, p)
	if c.accept != nil {
		if status := c.accept(p); status != StatusOK {
			return status
		}
	}
	c.params = p
	c.begun = true
	return StatusOK
}

func (h *simHandle) Transmit(data []byte) Status {
	c := h.chip
	c.mu.Lock()
	begun := c.begun
	peers := c.peers
	c.mu.Unlock()
	if !begun || h.closed {
		return StatusSPIFailed
	}
	for _, p := range peers {
		p.Inject(data)
	}
	return StatusOK
}

func (h *simHandle) Receive(timeout time.Duration) ([]byte, Status) {
	select {
	case raw := <-h.chip.rx:
		return raw, StatusOK
	case <-time.After(timeout):
		return nil, StatusTimeout
	}
}

func (h *simHandle) Close() error {
	h.closed = true
	return nil
}
