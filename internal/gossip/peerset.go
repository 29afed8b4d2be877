package gossip

import (
	"sync"
	"time"

	"github.com/kindlyrobotics/voltnetwork/internal/metrics"
)

// maxPeers bounds the peer table the way a DHT-style routing table
// caps its bucket size, so a node can't be made to grow this
// unboundedly by a flood of low-value peer announcements.
const maxPeers = 256

// peerEntry records when a peer was last heard from, for staleness
// eviction.
type peerEntry struct {
	addr     string
	lastSeen time.Time
}

// PeerSet is a bounded, last-seen-ordered table of known peer
// addresses. It's a supplement beyond the minimum the gossip spec
// requires (which only needs a bootstrap list), grounded on the
// original daemon's peer-routing table: a gossip network that never
// tracks liveness has no way to prune dead bootstrap entries over
// time.
type PeerSet struct {
	mu    sync.Mutex
	peers map[string]peerEntry
}

func NewPeerSet() *PeerSet {
	return &PeerSet{peers: make(map[string]peerEntry)}
}

// Seen records (or refreshes) a peer's last-seen time. If the table is
// at capacity and addr is new, the least-recently-seen peer is evicted
// to make room.
func (p *PeerSet) Seen(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.peers[addr]; !ok && len(p.peers) >= maxPeers {
		p.evictOldestLocked()
	}
	p.peers[addr] = peerEntry{addr: addr, lastSeen: time.Now()}
	metrics.PeerCount.Set(float64(len(p.peers)))
}

func (p *PeerSet) evictOldestLocked() {
	var oldestAddr string
	var oldest time.Time
	first := true
	for addr, e := range p.peers {
		if first || e.lastSeen.Before(oldest) {
			oldestAddr = addr
			oldest = e.lastSeen
			first = false
		}
	}
	if oldestAddr != "" {
		delete(p.peers, oldestAddr)
	}
}

// Remove drops a peer entirely, used when a peer is confirmed
// unreachable rather than merely stale.
func (p *PeerSet) Remove(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.peers, addr)
	metrics.PeerCount.Set(float64(len(p.peers)))
}

// Active returns every peer address currently tracked.
func (p *PeerSet) Active() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.peers))
	for addr := range p.peers {
		out = append(out, addr)
	}
	return out
}

// Len reports the current peer count.
func (p *PeerSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}
