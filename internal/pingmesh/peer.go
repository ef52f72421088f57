package pingmesh

import "github.com/relaymesh/relay/internal/wire"

// MaxPeers bounds the peer pool, matching the source's fixed MAX_RELAYS
// arrays; Go backs the pool with a map instead of parallel fixed arrays,
// but honors the same capacity as a sanity limit.
const MaxPeers = 1024

// Peer is one entry in the relay-to-relay ping mesh: a remote relay this
// node measures RTT/jitter/loss against.
type Peer struct {
	ID                 uint64
	Address            wire.Address
	History            *History
	LastPingScheduled  float64
}

// NewPeer builds a peer with a freshly cleared ping history.
func NewPeer(id uint64, addr wire.Address) *Peer {
	return &Peer{ID: id, Address: addr, History: NewHistory(), LastPingScheduled: -10000.0}
}
