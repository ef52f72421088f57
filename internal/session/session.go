package session

import (
	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/replay"
	"github.com/relaymesh/relay/internal/wire"
)

// Session is the per-hop forwarding state spec.md §3 "Session" describes.
// Its fields are mutated under the owning Table's mutex; the two replay
// windows are updated by receive workers and carry their own lock.
type Session struct {
	ID             uint64
	Version        uint8
	ExpireAt       uint64 // router-time seconds
	PrevAddress    wire.Address
	NextAddress    wire.Address
	PrevInternal   bool
	NextInternal   bool
	PrivateKey     [cryptobox.HeaderKeySize]byte
	KbpsUp         uint32
	KbpsDown       uint32

	ClientToServerReplay *replay.Window
	ServerToClientReplay *replay.Window

	clientToServerSeq uint64
	serverToClientSeq uint64
}

// NextClientToServerSequence returns the next sequence this relay should
// stamp when it itself originates a client-to-server-direction packet
// (the relay only emits sequences on response/control packets; see
// spec.md §3 and §4.F).
func (s *Session) NextClientToServerSequence() uint64 {
	s.clientToServerSeq++
	return s.clientToServerSeq
}

// NextServerToClientSequence is the server-to-client analogue.
func (s *Session) NextServerToClientSequence() uint64 {
	s.serverToClientSeq++
	return s.serverToClientSeq
}

// newSession builds a fresh Session from a decrypted route token and the
// address of the hop the token arrived from.
func newSession(t RouteToken, prevAddr wire.Address) *Session {
	return &Session{
		ID:                   t.SessionID,
		Version:              t.SessionVersion,
		ExpireAt:             t.ExpireTimestamp,
		PrevAddress:          prevAddr,
		NextAddress:          t.NextAddress,
		PrevInternal:         t.PrevInternal,
		NextInternal:         t.NextInternal,
		PrivateKey:           t.PrivateKey,
		KbpsUp:               t.KbpsUp,
		KbpsDown:             t.KbpsDown,
		ClientToServerReplay: replay.New(),
		ServerToClientReplay: replay.New(),
	}
}

// sameInstallation reports whether candidate describes exactly the same
// installation as existing — the idempotent-insert case of spec.md §9.
func sameInstallation(existing *Session, t RouteToken, prevAddr wire.Address) bool {
	return existing.Version == t.SessionVersion &&
		existing.ExpireAt == t.ExpireTimestamp &&
		existing.PrivateKey == t.PrivateKey &&
		existing.NextAddress.Equal(t.NextAddress) &&
		existing.PrevAddress.Equal(prevAddr)
}
