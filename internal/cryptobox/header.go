package cryptobox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// HeaderKeySize is the ChaCha20-Poly1305 IETF key size, installed per
// session from the route token's private_key field.
const HeaderKeySize = chacha20poly1305.KeySize

// HeaderBytes is the on-wire size of a sealed header: sequence(8) +
// session_id(8) + session_version(1) + tag(16), per spec.md §4.B.
const HeaderBytes = 8 + 8 + 1 + 16

// ErrHeaderAuthFailed means the AEAD tag didn't verify: wrong session
// key, wrong packet type used to build the nonce, or a corrupted packet.
var ErrHeaderAuthFailed = errors.New("cryptobox: header authentication failed")

// Direction selects which high bit of the sequence number a header must
// carry, per spec.md §4.F's "response packets the relay emits itself
// carry sequence with bits 63/62 set" invariant.
type Direction uint8

const (
	DirectionClientToServer Direction = iota
	DirectionServerToClient
)

const (
	sequenceDirectionBit = uint64(1) << 63
	sequenceClassBit     = uint64(1) << 62
)

// IsResponseClass reports whether packetType is one of the four types
// that must carry the sequence's class bit set (session ping/pong, route
// response, continue response).
func IsResponseClass(packetType uint32) bool {
	switch packetType {
	case 10, 13, 14, 16: // route response, session ping, session pong, continue response
		return true
	default:
		return false
	}
}

// SealHeader implements spec.md §4.B operation 2. The AEAD plaintext is
// empty — the header authenticates only its associated data — so the
// "ciphertext" written to the wire is just the 16-byte Poly1305 tag.
// sequence must already carry the correct direction/class bits; callers
// build it via BuildSequence.
func SealHeader(sessionID uint64, sessionVersion uint8, packetType uint32, sequence uint64, key [HeaderKeySize]byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, fmt.Errorf("build aead: %w", err)
	}

	aad := headerAAD(sessionID, sessionVersion)
	nonce := headerNonce(packetType, sequence)

	tag := aead.Seal(nil, nonce, nil, aad)

	out := make([]byte, 0, HeaderBytes)
	out = appendUint64(out, sequence)
	out = appendUint64(out, sessionID)
	out = append(out, sessionVersion)
	out = append(out, tag...)
	return out, nil
}

// VerifyHeader implements spec.md §4.B operation 2's inverse, plus the
// direction/class-bit check spec.md §4.F requires of every session-keyed
// packet. It returns the decoded (sessionID, sessionVersion, sequence)
// with the direction/class bits masked out of sequence, ready for replay
// windowing.
func VerifyHeader(header []byte, packetType uint32, expectDir Direction, key [HeaderKeySize]byte) (sessionID uint64, sessionVersion uint8, sequence uint64, err error) {
	if len(header) != HeaderBytes {
		return 0, 0, 0, fmt.Errorf("%w: want %d bytes, got %d", ErrHeaderAuthFailed, HeaderBytes, len(header))
	}

	rawSequence := binary.LittleEndian.Uint64(header[0:8])
	sessionID = binary.LittleEndian.Uint64(header[8:16])
	sessionVersion = header[16]
	tag := header[17:33]

	if err := checkSequenceBits(rawSequence, packetType, expectDir); err != nil {
		return 0, 0, 0, err
	}

	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return 0, 0, 0, fmt.Errorf("build aead: %w", err)
	}

	aad := headerAAD(sessionID, sessionVersion)
	nonce := headerNonce(packetType, rawSequence)

	if _, err := aead.Open(nil, nonce, tag, aad); err != nil {
		return 0, 0, 0, ErrHeaderAuthFailed
	}

	return sessionID, sessionVersion, maskSequence(rawSequence), nil
}

func checkSequenceBits(sequence uint64, packetType uint32, dir Direction) error {
	hasDirBit := sequence&sequenceDirectionBit != 0
	wantDirBit := dir == DirectionServerToClient
	if hasDirBit != wantDirBit {
		return fmt.Errorf("%w: direction bit mismatch", ErrHeaderAuthFailed)
	}

	hasClassBit := sequence&sequenceClassBit != 0
	wantClassBit := IsResponseClass(packetType)
	if hasClassBit != wantClassBit {
		return fmt.Errorf("%w: class bit mismatch", ErrHeaderAuthFailed)
	}
	return nil
}

// BuildSequence sets the direction/class high bits on a plain sequence
// counter, as required for any packet the relay itself emits (route
// response, continue response and session pong flow server-to-client;
// session ping flows client-to-server).
func BuildSequence(counter uint64, packetType uint32, dir Direction) uint64 {
	seq := counter &^ (sequenceDirectionBit | sequenceClassBit)
	if dir == DirectionServerToClient {
		seq |= sequenceDirectionBit
	}
	if IsResponseClass(packetType) {
		seq |= sequenceClassBit
	}
	return seq
}

// maskSequence strips the direction/class bits, leaving the plain replay
// counter spec.md §4.D windows on.
func maskSequence(sequence uint64) uint64 {
	return sequence &^ (sequenceDirectionBit | sequenceClassBit)
}

func headerAAD(sessionID uint64, sessionVersion uint8) []byte {
	aad := make([]byte, 9)
	binary.LittleEndian.PutUint64(aad[0:8], sessionID)
	aad[8] = sessionVersion
	return aad
}

func headerNonce(packetType uint32, sequence uint64) []byte {
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint32(nonce[0:4], packetType)
	binary.LittleEndian.PutUint64(nonce[4:12], sequence)
	return nonce
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
