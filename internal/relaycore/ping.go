package relaycore

import (
	"encoding/binary"

	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/pingmesh"
)

// StartPingScheduler launches the 100ms relay-to-relay ping tick
// (spec.md §4.G) against ctx.Peers, emitting packets over the first
// receive worker's socket. Returns the scheduler so the caller can Stop
// it on shutdown.
func StartPingScheduler(ctx *Context, workers []*Worker) *pingmesh.Scheduler {
	scheduler := pingmesh.NewScheduler(ctx.Peers, ctx.pingSendFunc(workers), nowFloat)
	go scheduler.Run()
	return scheduler
}

func (c *Context) pingSendFunc(workers []*Worker) pingmesh.SendFunc {
	return func(peer *pingmesh.Peer, sequence uint64) {
		if len(workers) == 0 {
			return
		}

		body := make([]byte, 8)
		binary.LittleEndian.PutUint64(body, sequence)
		magics := c.Magics()
		out := filter.WriteTags(forward.TypeRelayPing, body, magics.Current,
			c.SelfAddr.AddressBytes(), c.SelfAddr.Port, peer.Address.AddressBytes(), peer.Address.Port)

		// Relay-to-relay mesh traffic always rides the public socket.
		workers[0].enqueue(out, peer.Address, false)
	}
}
