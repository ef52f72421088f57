package relaycore

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/pingmesh"
	"github.com/relaymesh/relay/internal/routerclient"
)

// HeartbeatInterval is how often relay_update fires (spec.md §4.H).
const HeartbeatInterval = 10 * time.Second

// Bootstrap performs the one-shot relay_init call and installs the
// resulting relay token; the returned router timestamp is only logged.
// Failure here is fatal per
// spec.md §7's "Backend init failure: retry with backoff, then
// terminate" — Init itself already retries up to 30 times.
func (c *Context) Bootstrap(ctx context.Context) error {
	resp, err := c.Router.Init(ctx, c.Config.PublicAddress)
	if err != nil {
		return fmt.Errorf("relaycore: bootstrap: %w", err)
	}
	c.RelayToken = resp.RelayToken
	c.Log.Info().Uint64("router_timestamp", resp.RouterTimestamp).Msg("relay_init succeeded")
	return nil
}

// RunHeartbeat drives relay_update on a fixed tick until ctx is
// cancelled. Per spec.md §7's "Backend heartbeat failure" row, a failed
// tick is logged and the relay keeps forwarding with whatever peer list
// and magic triple it already has — there is no retry inside one tick.
func (c *Context) RunHeartbeat(ctx context.Context) {
	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.heartbeatOnce(ctx)
		}
	}
}

func (c *Context) heartbeatOnce(ctx context.Context) {
	req := c.buildUpdateRequest()
	resp, err := c.Router.Update(ctx, req)
	if err != nil {
		c.Log.Warn().Err(err).Msg("relay_update failed, continuing with last-known state")
		return
	}
	c.applyUpdateResponse(resp)
}

func (c *Context) buildUpdateRequest() routerclient.UpdateRequest {
	peers := c.Peers.Peers()
	now := nowFloat()
	stats := make([]routerclient.PeerStat, 0, len(peers))
	for _, p := range peers {
		s := p.History.ComputeStats(now-pingmesh.StatsWindowSeconds, now, pingmesh.PingSafetySeconds)
		stats = append(stats, routerclient.PeerStat{
			PeerID: p.ID,
			RTT:    s.RTTMillis,
			Jitter: s.JitterMillis,
			Loss:   s.PacketLossPercent,
		})
	}

	return routerclient.UpdateRequest{
		RelayAddress: c.Config.PublicAddress,
		RelayToken:   c.RelayToken,
		PeerStats:    stats,
		SessionCount: uint64(c.Sessions.Len()),
		BuildVersion: c.Config.RelayName,
		Counters:     c.Counters.Snapshot(),
		Shutdown:     c.ShuttingDown(),
	}
}

func (c *Context) applyUpdateResponse(resp routerclient.UpdateResponse) {
	updates := make([]pingmesh.PeerUpdate, 0, len(resp.Peers))
	for _, p := range resp.Peers {
		addr, err := ParseHostPortString(p.Address)
		if err != nil {
			c.Log.Warn().Err(err).Uint64("peer_id", p.ID).Msg("skipping peer with unparseable address")
			continue
		}
		updates = append(updates, pingmesh.PeerUpdate{ID: p.ID, Address: addr})
	}
	c.Peers.Reconcile(updates, nowFloat())

	if !c.verifyRotationSignature(resp) {
		return
	}
	c.SetMagics(resp.Magics)
}

// verifyRotationSignature implements spec.md §4.B operation 3: a
// version-2 relay_update response signs its magic triple so an on-path
// attacker between relay and backend can't force a bogus rotation. A
// response with no signature (older protocol version, or no signing key
// configured) is trusted on transport alone, matching the router
// client's existing behavior before signed rotation existed.
func (c *Context) verifyRotationSignature(resp routerclient.UpdateResponse) bool {
	if len(resp.RotationSignature) == 0 || c.Keys.RouterSigningPublic == nil {
		return true
	}

	message := make([]byte, 0, len(resp.Magics.Upcoming)+len(resp.Magics.Current)+len(resp.Magics.Previous))
	message = append(message, resp.Magics.Upcoming[:]...)
	message = append(message, resp.Magics.Current[:]...)
	message = append(message, resp.Magics.Previous[:]...)

	if !cryptobox.VerifyEd25519(c.Keys.RouterSigningPublic, message, resp.RotationSignature) {
		c.Log.Warn().Msg("relay_update magic rotation signature invalid, keeping previous magics")
		return false
	}
	return true
}
