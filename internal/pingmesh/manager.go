package pingmesh

import (
	"sync"

	"github.com/relaymesh/relay/internal/wire"
)

// PeerUpdate is one entry of an incoming heartbeat peer list.
type PeerUpdate struct {
	ID      uint64
	Address wire.Address
}

// Manager owns the live peer pool and reconciles it against each
// heartbeat's peer list, per spec.md §4.G: peers that remain keep their
// ping history, new peers get a fresh one, removed peers release theirs.
// Only the router-client/ping-scheduler thread touches this; the mutex
// exists so a heartbeat HTTP response and the 100ms scheduler tick (which
// may run on the same thread, but tests exercise both directly) never
// race on the peer map.
type Manager struct {
	mu    sync.Mutex
	peers map[uint64]*Peer
}

// NewManager returns an empty peer manager.
func NewManager() *Manager {
	return &Manager{peers: make(map[uint64]*Peer)}
}

// Reconcile updates the peer pool from a fresh heartbeat peer list,
// returning the peers that are new this round (for spread-scheduling) and
// the current full peer count. Entries beyond the first MaxPeers are
// ignored.
func (m *Manager) Reconcile(updates []PeerUpdate, now float64) (newPeers []*Peer, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[uint64]*Peer, len(updates))
	for _, u := range updates {
		if len(next) >= MaxPeers {
			break
		}
		if existing, ok := m.peers[u.ID]; ok {
			existing.Address = u.Address
			next[u.ID] = existing
			continue
		}
		p := NewPeer(u.ID, u.Address)
		next[u.ID] = p
		newPeers = append(newPeers, p)
	}
	m.peers = next

	if len(next) > 0 {
		i := 0
		interval := PingIntervalSeconds / float64(len(next))
		for _, p := range next {
			p.LastPingScheduled = now - PingIntervalSeconds + float64(i)*interval
			i++
		}
	}

	return newPeers, len(next)
}

// Peers returns a snapshot slice of the current peer pool.
func (m *Manager) Peers() []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		out = append(out, p)
	}
	return out
}

// Lookup returns the peer with the given id, if present.
func (m *Manager) Lookup(id uint64) (*Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.peers[id]
	return p, ok
}

// Due returns every peer whose next scheduled ping time has arrived,
// advancing their LastPingScheduled so the same peer isn't returned twice
// in one scheduler pass.
func (m *Manager) Due(now float64) []*Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Peer
	for _, p := range m.peers {
		if p.LastPingScheduled+PingIntervalSeconds <= now {
			p.LastPingScheduled = now
			due = append(due, p)
		}
	}
	return due
}
