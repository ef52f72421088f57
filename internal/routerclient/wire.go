// Package routerclient implements the backend control-plane calls
// spec.md §4.H describes: a one-shot relay_init bootstrap and a periodic
// relay_update heartbeat, both application/octet-stream POSTs.
package routerclient

import (
	"crypto/ed25519"
	"fmt"

	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/wire"
)

const (
	initRequestMagic   uint32 = 0x9083708f
	initRequestVersion uint32 = 0
	initResponseVersion uint32 = 0

	updateRequestVersion     uint32 = 5
	maxUpdateResponseVersion uint32 = 2

	relayTokenBytes  = 32
	maxAddressString = 256
	maxVersionString = 32

	// rotationSignatureBytes is the Ed25519 signature a version-2
	// response carries over its three magic byte strings, letting the
	// relay verify a magic rotation came from the router's signing key
	// rather than an on-path attacker sitting between relay and backend.
	rotationSignatureBytes = ed25519.SignatureSize
)

// PeerAddress is one entry of the peer list the backend returns on
// heartbeat: id, address, and whether it sits on an internal NIC.
type PeerAddress struct {
	ID       uint64
	Address  string
	Internal bool
}

// InitRequest is the relay_init request body before sealing.
type InitRequest struct {
	RelayAddress string
	RelayToken   [relayTokenBytes]byte
}

// marshalInit builds the on-wire relay_init body: a cleartext preamble
// (magic, version, nonce, relay address) followed by the relay token
// sealed in place with crypto_box_easy's non-ephemeral form (the relay's
// own static keypair, not a one-shot sealed box), exactly as
// relay_init does in the source.
func marshalInit(req InitRequest, routerPub cryptobox.PublicKey, relayPriv cryptobox.PrivateKey) ([]byte, error) {
	nonce, ciphertext, err := cryptobox.SealBox(req.RelayToken[:], routerPub, relayPriv)
	if err != nil {
		return nil, fmt.Errorf("seal init token: %w", err)
	}

	w := wire.NewWriter(4 + 4 + cryptobox.NonceSize + 4 + maxAddressString + len(ciphertext))
	w.WriteUint32(initRequestMagic)
	w.WriteUint32(initRequestVersion)
	w.WriteBytes(nonce[:])
	w.WriteString(req.RelayAddress, maxAddressString)
	w.WriteBytes(ciphertext)
	return w.Bytes(), nil
}

// InitResponse is the decoded relay_init response.
type InitResponse struct {
	RouterTimestamp uint64
	RelayToken      [relayTokenBytes]byte
}

func unmarshalInitResponse(data []byte) (InitResponse, error) {
	r := wire.NewReader(data)
	var resp InitResponse

	version, err := r.ReadUint32()
	if err != nil {
		return resp, fmt.Errorf("init response: %w", err)
	}
	if version != initResponseVersion {
		return resp, fmt.Errorf("init response: unexpected version %d", version)
	}
	if r.Remaining() != 8+relayTokenBytes {
		return resp, fmt.Errorf("init response: unexpected length %d", r.Remaining())
	}
	if resp.RouterTimestamp, err = r.ReadUint64(); err != nil {
		return resp, fmt.Errorf("init response: %w", err)
	}
	tok, err := r.ReadBytes(relayTokenBytes)
	if err != nil {
		return resp, fmt.Errorf("init response: %w", err)
	}
	copy(resp.RelayToken[:], tok)
	return resp, nil
}

// PeerStat is one peer's RTT/jitter/loss triple, as reported upstream.
type PeerStat struct {
	PeerID  uint64
	RTT     float32
	Jitter  float32
	Loss    float32
}

// UpdateRequest is everything relay_update reports about this relay's
// state on a single heartbeat tick.
type UpdateRequest struct {
	RelayAddress     string
	RelayToken       [relayTokenBytes]byte
	PeerStats        []PeerStat
	SessionCount     uint64
	Shutdown         bool
	BuildVersion     string
	CPULoad          uint8
	EnvelopeKbpsUp   uint64
	EnvelopeKbpsDown uint64
	BandwidthTxBytes uint64
	BandwidthRxBytes uint64
	Counters         []uint64
}

func marshalUpdate(req UpdateRequest) []byte {
	w := wire.NewWriter(1024)
	w.WriteUint32(updateRequestVersion)
	w.WriteString(req.RelayAddress, maxAddressString)
	w.WriteBytes(req.RelayToken[:])

	w.WriteUint32(uint32(len(req.PeerStats)))
	for _, p := range req.PeerStats {
		w.WriteUint64(p.PeerID)
		w.WriteFloat32(p.RTT)
		w.WriteFloat32(p.Jitter)
		w.WriteFloat32(p.Loss)
	}

	w.WriteUint64(req.SessionCount)
	w.WriteUint8(boolToByte(req.Shutdown))
	w.WriteString(req.BuildVersion, maxVersionString)
	w.WriteUint8(req.CPULoad)
	w.WriteUint64(req.EnvelopeKbpsUp)
	w.WriteUint64(req.EnvelopeKbpsDown)
	w.WriteUint64(req.BandwidthTxBytes)
	w.WriteUint64(req.BandwidthRxBytes)

	w.WriteUint32(uint32(len(req.Counters)))
	for _, c := range req.Counters {
		w.WriteUint64(c)
	}
	return w.Bytes()
}

// UpdateResponse is the decoded relay_update response.
type UpdateResponse struct {
	RouterTimestamp uint64
	Peers           []PeerAddress
	TargetVersion   string
	Magics          filter.MagicTriple

	// RotationSignature is the Ed25519 signature over Magics's three
	// byte strings (upcoming||current||previous), present on version-2
	// responses. Empty on version 0/1 responses, which predate signed
	// rotation and are trusted on transport alone.
	RotationSignature []byte
}

func unmarshalUpdateResponse(data []byte) (UpdateResponse, error) {
	r := wire.NewReader(data)
	var resp UpdateResponse

	version, err := r.ReadUint32()
	if err != nil {
		return resp, fmt.Errorf("update response: %w", err)
	}
	if version > maxUpdateResponseVersion {
		return resp, fmt.Errorf("update response: unsupported version %d", version)
	}

	if resp.RouterTimestamp, err = r.ReadUint64(); err != nil {
		return resp, fmt.Errorf("update response: %w", err)
	}

	numPeers, err := r.ReadUint32()
	if err != nil {
		return resp, fmt.Errorf("update response: %w", err)
	}
	resp.Peers = make([]PeerAddress, 0, numPeers)
	for i := uint32(0); i < numPeers; i++ {
		id, err := r.ReadUint64()
		if err != nil {
			return resp, fmt.Errorf("update response: peer %d: %w", i, err)
		}
		addr, err := r.ReadString(maxAddressString)
		if err != nil {
			return resp, fmt.Errorf("update response: peer %d: %w", i, err)
		}
		internal, err := r.ReadUint8()
		if err != nil {
			return resp, fmt.Errorf("update response: peer %d: %w", i, err)
		}
		resp.Peers = append(resp.Peers, PeerAddress{ID: id, Address: addr, Internal: internal != 0})
	}

	targetVersion, err := r.ReadString(maxVersionString)
	if err != nil {
		return resp, fmt.Errorf("update response: %w", err)
	}
	resp.TargetVersion = targetVersion

	if version >= 1 {
		upcoming, err := r.ReadBytes(filter.MagicSize)
		if err != nil {
			return resp, fmt.Errorf("update response: %w", err)
		}
		current, err := r.ReadBytes(filter.MagicSize)
		if err != nil {
			return resp, fmt.Errorf("update response: %w", err)
		}
		previous, err := r.ReadBytes(filter.MagicSize)
		if err != nil {
			return resp, fmt.Errorf("update response: %w", err)
		}
		copy(resp.Magics.Upcoming[:], upcoming)
		copy(resp.Magics.Current[:], current)
		copy(resp.Magics.Previous[:], previous)
	}

	if version >= 2 {
		sig, err := r.ReadBytes(rotationSignatureBytes)
		if err != nil {
			return resp, fmt.Errorf("update response: %w", err)
		}
		resp.RotationSignature = sig
	}

	return resp, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
