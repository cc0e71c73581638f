// Package peers tracks recently-seen mesh nodes and suppresses
// reprocessing of frames already handled.
package peers

import (
	"sync"
	"time"
)

// Capacity is the fixed peer table size. Once full, new peers are
// dropped (counted, not stored); existing peers still refresh.
const Capacity = 16

type entry struct {
	nodeID   uint16
	lastSeen time.Time
}

// Peer is one snapshot row from ListPeers.
type Peer struct {
	NodeID uint16        `json:"node_id"`
	Age    time.Duration `json:"age_ms"`
}

// Table is the bounded peer table. Safe for concurrent use, although
// the node's control loop is the only writer in practice.
type Table struct {
	mu      sync.Mutex
	peers   []entry
	dropped uint64
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{peers: make([]entry, 0, Capacity)}
}

// Update refreshes an existing peer's timestamp or appends a new one.
// When the table is full a new peer is silently not recorded; the drop
// is counted so the condition stays observable.
func (t *Table) Update(nodeID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.peers {
		if t.peers[i].nodeID == nodeID {
			t.peers[i].lastSeen = time.Now()
			return
		}
	}
	if len(t.peers) >= Capacity {
		t.dropped++
		return
	}
	t.peers = append(t.peers, entry{nodeID: nodeID, lastSeen: time.Now()})
}

// List returns a snapshot with each peer's time since last seen.
func (t *Table) List() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	out := make([]Peer, len(t.peers))
	for i, e := range t.peers {
		out[i] = Peer{NodeID: e.nodeID, Age: now.Sub(e.lastSeen)}
	}
	return out
}

// Len returns the current peer count.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Dropped returns how many new peers were not recorded because the
// table was full.
func (t *Table) Dropped() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}
