// Package forward implements the per-packet-type dispatch state machine
// spec.md §4.F describes: token paths that mutate the session table, and
// session paths that replay-check and AEAD-verify before rewriting a
// packet onto its next hop.
package forward

import (
	"errors"
	"fmt"

	"github.com/relaymesh/relay/internal/counters"
	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/nearping"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/wire"
)

// Packet type bytes, per spec.md §6.
const (
	TypePassthrough      = 0
	TypeRouteRequest     = 9
	TypeRouteResponse    = 10
	TypeClientToServer   = 11
	TypeServerToClient   = 12
	TypeSessionPing      = 13
	TypeSessionPong      = 14
	TypeContinueRequest  = 15
	TypeContinueResponse = 16
	TypeNearPing         = 20
	TypeNearPong         = 21
	TypeRelayPing        = 75
	TypeRelayPong        = 76
)

// RelayMTU bounds every forwarded datagram; spec.md §8's boundary test
// requires packets at exactly this size to pass and MTU+1 to be rejected.
const RelayMTU = 1300

var errDrop = errors.New("forward: packet dropped")

// Hop describes where and how to send a forwarded packet next.
type Hop struct {
	Address  wire.Address
	Internal bool
}

// Outcome is what the dispatcher decided to do with one inbound packet.
type Outcome struct {
	Forward bool
	Hop     Hop
	Payload []byte
}

// Dispatcher holds everything packet-type handling needs: the session
// table, keys for opening tokens, the relay's own bind address (used as
// "src" when re-tagging forwarded packets), and the counter array every
// drop reason feeds.
type Dispatcher struct {
	Sessions   *session.Table
	Counters   *counters.Array
	RouterPub  cryptobox.PublicKey
	RelayPriv  cryptobox.PrivateKey
	SelfAddr   wire.Address
	Limiter    *EnvelopeLimiter
}

// Handle dispatches one admitted (post-filter) packet. srcAddr is the
// socket peer address the datagram arrived from; now is router-time
// seconds used for token/session expiry checks. Magics is the current
// rotating triple, used only when re-tagging a packet this relay itself
// originates (route-request remainder, near-pong).
func (d *Dispatcher) Handle(data []byte, srcAddr wire.Address, now uint64, magics filter.MagicTriple) (Outcome, error) {
	if len(data) == 0 {
		return Outcome{}, fmt.Errorf("forward: empty packet")
	}

	// RelayMTU only bounds the two opaque game-payload types (spec.md §6);
	// every other type carries its own variable-length structure (e.g. a
	// multi-hop route-request's token chain) that must be validated before
	// any size judgment, not rejected by a blanket wire-packet cap.
	if data[0] == TypeClientToServer && len(data) > RelayMTU {
		d.Counters.Inc(counters.ClientToServerPacketTooBig)
		return Outcome{}, errDrop
	}
	if data[0] == TypeServerToClient && len(data) > RelayMTU {
		d.Counters.Inc(counters.ServerToClientPacketTooBig)
		return Outcome{}, errDrop
	}

	switch data[0] {
	case TypePassthrough:
		return d.handlePassthrough(data)
	case TypeRouteRequest:
		return d.handleRouteRequest(data, srcAddr, now, magics)
	case TypeContinueRequest:
		return d.handleContinueRequest(data, now)
	case TypeRouteResponse:
		return d.handleSessionPacket(data, now, TypeRouteResponse, cryptobox.DirectionServerToClient,
			counters.RouteResponsePacketUnknownSession, counters.RouteResponsePacketSessionExpired,
			counters.RouteResponsePacketReplay, counters.RouteResponsePacketHeaderFailed,
			counters.RouteResponsePacketForwarded, hopPrev)
	case TypeClientToServer:
		return d.handleBudgetedSessionPacket(data, now, TypeClientToServer, cryptobox.DirectionClientToServer,
			counters.ClientToServerPacketUnknownSession, counters.ClientToServerPacketSessionExpired,
			counters.ClientToServerPacketAlreadyReceived, counters.ClientToServerPacketHeaderFailed,
			counters.ClientToServerPacketOverBudget, counters.ClientToServerPacketForwarded, hopNext)
	case TypeServerToClient:
		return d.handleBudgetedSessionPacket(data, now, TypeServerToClient, cryptobox.DirectionServerToClient,
			counters.ServerToClientPacketUnknownSession, counters.ServerToClientPacketSessionExpired,
			counters.ServerToClientPacketAlreadyReceived, counters.ServerToClientPacketHeaderFailed,
			counters.ServerToClientPacketOverBudget, counters.ServerToClientPacketForwarded, hopPrev)
	case TypeSessionPing:
		return d.handleSessionPacket(data, now, TypeSessionPing, cryptobox.DirectionClientToServer,
			counters.SessionPingPacketUnknownSession, counters.SessionPingPacketSessionExpired,
			counters.SessionPingPacketAlreadyReceived, counters.SessionPingPacketHeaderFailed,
			counters.SessionPingPacketForwarded, hopNext)
	case TypeSessionPong:
		return d.handleSessionPacket(data, now, TypeSessionPong, cryptobox.DirectionServerToClient,
			counters.SessionPongPacketUnknownSession, counters.SessionPongPacketSessionExpired,
			counters.SessionPongPacketAlreadyReceived, counters.SessionPongPacketHeaderFailed,
			counters.SessionPongPacketForwarded, hopPrev)
	case TypeContinueResponse:
		return d.handleSessionPacket(data, now, TypeContinueResponse, cryptobox.DirectionServerToClient,
			counters.ContinueResponsePacketUnknownSession, counters.ContinueResponsePacketSessionExpired,
			counters.ContinueResponsePacketReplay, counters.ContinueResponsePacketHeaderFailed,
			counters.ContinueResponsePacketForwarded, hopPrev)
	case TypeNearPing:
		return d.handleNearPing(data, srcAddr, magics)
	case TypeNearPong:
		d.Counters.Inc(counters.NearPongPacketDropped)
		return Outcome{}, errDrop
	default:
		return Outcome{}, fmt.Errorf("forward: unhandled packet type %d", data[0])
	}
}

type hopSelector int

const (
	hopNext hopSelector = iota
	hopPrev
)

func (d *Dispatcher) handlePassthrough(data []byte) (Outcome, error) {
	// Passthrough carries no session id; without one there is nowhere
	// principled to forward it in this dispatcher-level contract, so
	// callers that admit type-0 traffic are expected to already know the
	// destination out of band (e.g. a fixed backend address) and forward
	// it themselves. The dispatcher reports it verbatim for that caller.
	d.Counters.Inc(counters.PassthroughPacketForwarded)
	return Outcome{Forward: true, Payload: data}, nil
}

func body(data []byte) []byte {
	if len(data) < 1+filter.ChonkleBytes+filter.PittleBytes {
		return nil
	}
	return data[1+filter.ChonkleBytes : len(data)-filter.PittleBytes]
}

func (d *Dispatcher) handleRouteRequest(data []byte, srcAddr wire.Address, now uint64, magics filter.MagicTriple) (Outcome, error) {
	b := body(data)
	if len(b) < session.SealedRouteTokenBytes {
		d.Counters.Inc(counters.RouteRequestPacketBadToken)
		return Outcome{}, errDrop
	}

	sealed := b[:session.SealedRouteTokenBytes]
	remainder := b[session.SealedRouteTokenBytes:]

	tok, err := session.OpenRouteToken(sealed, d.RouterPub, d.RelayPriv)
	if err != nil {
		d.Counters.Inc(counters.RouteRequestPacketBadToken)
		return Outcome{}, errDrop
	}
	if now > tok.ExpireTimestamp {
		d.Counters.Inc(counters.RouteRequestPacketTokenExpired)
		return Outcome{}, errDrop
	}

	d.Sessions.Insert(tok, srcAddr, now)

	out := filter.WriteTags(TypeRouteRequest, remainder, magics.Current,
		d.SelfAddr.AddressBytes(), d.SelfAddr.Port, tok.NextAddress.AddressBytes(), tok.NextAddress.Port)

	return Outcome{Forward: true, Hop: Hop{Address: tok.NextAddress, Internal: tok.NextInternal}, Payload: out}, nil
}

func (d *Dispatcher) handleContinueRequest(data []byte, now uint64) (Outcome, error) {
	b := body(data)
	if len(b) < session.SealedContinueTokenBytes {
		d.Counters.Inc(counters.ContinueRequestPacketBadToken)
		return Outcome{}, errDrop
	}
	sealed := b[:session.SealedContinueTokenBytes]

	tok, err := session.OpenContinueToken(sealed, d.RouterPub, d.RelayPriv)
	if err != nil {
		d.Counters.Inc(counters.ContinueRequestPacketBadToken)
		return Outcome{}, errDrop
	}
	if now > tok.ExpireTimestamp {
		d.Counters.Inc(counters.ContinueRequestPacketSessionExpired)
		return Outcome{}, errDrop
	}

	if !d.Sessions.Refresh(tok, now) {
		return Outcome{}, errDrop
	}

	s, ok := d.Sessions.Lookup(tok.SessionID, now)
	if !ok {
		return Outcome{}, errDrop
	}
	return Outcome{Forward: true, Hop: Hop{Address: s.NextAddress, Internal: s.NextInternal}, Payload: data}, nil
}

func (d *Dispatcher) handleSessionPacket(
	data []byte, now uint64, packetType uint32, dir cryptobox.Direction,
	unknownCounter, expiredCounter, replayCounter, authFailedCounter, forwardedCounter counters.Index,
	hop hopSelector,
) (Outcome, error) {
	return d.dispatchSessionPacket(data, now, packetType, dir, unknownCounter, expiredCounter, replayCounter, authFailedCounter, 0, forwardedCounter, hop, false)
}

func (d *Dispatcher) handleBudgetedSessionPacket(
	data []byte, now uint64, packetType uint32, dir cryptobox.Direction,
	unknownCounter, expiredCounter, replayCounter, authFailedCounter, overBudgetCounter, forwardedCounter counters.Index,
	hop hopSelector,
) (Outcome, error) {
	return d.dispatchSessionPacket(data, now, packetType, dir, unknownCounter, expiredCounter, replayCounter, authFailedCounter, overBudgetCounter, forwardedCounter, hop, true)
}

func (d *Dispatcher) dispatchSessionPacket(
	data []byte, now uint64, packetType uint32, dir cryptobox.Direction,
	unknownCounter, expiredCounter, replayCounter, authFailedCounter, overBudgetCounter, forwardedCounter counters.Index,
	hop hopSelector, budgeted bool,
) (Outcome, error) {
	b := body(data)
	if len(b) < cryptobox.HeaderBytes {
		d.Counters.Inc(authFailedCounter)
		return Outcome{}, errDrop
	}
	header := b[:cryptobox.HeaderBytes]

	// session id/version sit at a fixed offset inside the header even
	// before the AEAD tag is checked, so a lookup miss can be counted
	// precisely as "unknown session" rather than folded into auth failure.
	peekID := wire.NewReader(header[8:16])
	sessionID, err := peekID.ReadUint64()
	if err != nil {
		d.Counters.Inc(authFailedCounter)
		return Outcome{}, errDrop
	}
	sessionVersion := header[16]

	s, found := d.Sessions.Lookup(sessionID, now)
	if !found {
		d.Counters.Inc(unknownCounter)
		return Outcome{}, errDrop
	}
	if s.Version != sessionVersion {
		d.Counters.Inc(expiredCounter)
		return Outcome{}, errDrop
	}

	_, _, sequence, err := cryptobox.VerifyHeader(header, packetType, dir, s.PrivateKey)
	if err != nil {
		d.Counters.Inc(authFailedCounter)
		return Outcome{}, errDrop
	}

	win := s.ClientToServerReplay
	if dir == cryptobox.DirectionServerToClient {
		win = s.ServerToClientReplay
	}
	if !win.Accept(sequence) {
		d.Counters.Inc(replayCounter)
		return Outcome{}, errDrop
	}

	if budgeted && d.Limiter != nil {
		payloadLen := len(b) - cryptobox.HeaderBytes
		if !d.Limiter.Allow(s, upstreamDirection(hop), payloadLen) {
			d.Counters.Inc(overBudgetCounter)
			return Outcome{}, errDrop
		}
	}

	d.Counters.Inc(forwardedCounter)

	var address wire.Address
	var internal bool
	if hop == hopNext {
		address, internal = s.NextAddress, s.NextInternal
	} else {
		address, internal = s.PrevAddress, s.PrevInternal
	}
	return Outcome{Forward: true, Hop: Hop{Address: address, Internal: internal}, Payload: data}, nil
}

func upstreamDirection(hop hopSelector) bool {
	return hop == hopNext
}

func (d *Dispatcher) handleNearPing(data []byte, srcAddr wire.Address, magics filter.MagicTriple) (Outcome, error) {
	b := body(data)
	out, err := nearping.Respond(b)
	if err != nil {
		return Outcome{}, errDrop
	}
	tagged := filter.WriteTags(TypeNearPong, out, magics.Current,
		d.SelfAddr.AddressBytes(), d.SelfAddr.Port, srcAddr.AddressBytes(), srcAddr.Port)
	d.Counters.Inc(counters.NearPingPacketForwarded)
	return Outcome{Forward: true, Hop: Hop{Address: srcAddr}, Payload: tagged}, nil
}
