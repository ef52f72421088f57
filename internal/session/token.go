// Package session implements the route/continue token codec and the
// session table spec.md §3 and §4.E describe.
package session

import (
	"fmt"

	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/wire"
)

const (
	// RouteTokenBytes is the cleartext size of a route token (spec.md §3).
	RouteTokenBytes = 76
	// SealedRouteTokenBytes is the on-wire sealed-box size: nonce(24) +
	// ciphertext(76) + MAC(16).
	SealedRouteTokenBytes = cryptobox.NonceSize + RouteTokenBytes + cryptobox.MACSize

	// ContinueTokenBytes is the cleartext size of a continue token.
	ContinueTokenBytes = 17
	// SealedContinueTokenBytes is the on-wire sealed-box size.
	SealedContinueTokenBytes = cryptobox.NonceSize + ContinueTokenBytes + cryptobox.MACSize

	reservedOctets = 10
)

// RouteToken is the cleartext contents of a route-request token.
type RouteToken struct {
	ExpireTimestamp uint64
	SessionID       uint64
	SessionVersion  uint8
	KbpsUp          uint32
	KbpsDown        uint32
	NextAddress     wire.Address
	NextInternal    bool
	PrevInternal    bool
	PrivateKey      [cryptobox.HeaderKeySize]byte
}

// Marshal encodes the token's cleartext form (76 bytes).
func (t RouteToken) Marshal() []byte {
	w := wire.NewWriter(RouteTokenBytes)
	w.WriteUint64(t.ExpireTimestamp)
	w.WriteUint64(t.SessionID)
	w.WriteUint8(t.SessionVersion)
	w.WriteUint32(t.KbpsUp)
	w.WriteUint32(t.KbpsDown)
	w.WriteAddressShort(t.NextAddress)
	w.WriteUint8(boolToByte(t.NextInternal))
	w.WriteUint8(boolToByte(t.PrevInternal))
	w.WriteZeros(reservedOctets)
	w.WriteBytes(t.PrivateKey[:])
	return w.Bytes()
}

// UnmarshalRouteToken decodes a route token's cleartext form.
func UnmarshalRouteToken(data []byte) (RouteToken, error) {
	r := wire.NewReader(data)
	var t RouteToken
	var err error
	if t.ExpireTimestamp, err = r.ReadUint64(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	if t.SessionID, err = r.ReadUint64(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	if t.SessionVersion, err = r.ReadUint8(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	if t.KbpsUp, err = r.ReadUint32(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	if t.KbpsDown, err = r.ReadUint32(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	if t.NextAddress, err = r.ReadAddressShort(); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	nextInternal, err := r.ReadUint8()
	if err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	t.NextInternal = nextInternal != 0
	prevInternal, err := r.ReadUint8()
	if err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	t.PrevInternal = prevInternal != 0
	if err := r.Skip(reservedOctets); err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	key, err := r.ReadBytes(cryptobox.HeaderKeySize)
	if err != nil {
		return t, fmt.Errorf("route token: %w", err)
	}
	copy(t.PrivateKey[:], key)
	return t, nil
}

// SealRouteToken seals a route token for transmission to this relay.
func SealRouteToken(t RouteToken, relayPub cryptobox.PublicKey, routerPriv cryptobox.PrivateKey) ([]byte, error) {
	return sealToken(t.Marshal(), relayPub, routerPriv)
}

// OpenRouteToken opens and decodes a sealed route token using the
// relay's own keypair and the router's known public key.
func OpenRouteToken(sealed []byte, routerPub cryptobox.PublicKey, relayPriv cryptobox.PrivateKey) (RouteToken, error) {
	plaintext, err := openToken(sealed, SealedRouteTokenBytes, RouteTokenBytes, routerPub, relayPriv)
	if err != nil {
		return RouteToken{}, err
	}
	return UnmarshalRouteToken(plaintext)
}

// ContinueToken is the cleartext contents of a continue-request token.
type ContinueToken struct {
	ExpireTimestamp uint64
	SessionID       uint64
	SessionVersion  uint8
}

// Marshal encodes the token's cleartext form (17 bytes).
func (t ContinueToken) Marshal() []byte {
	w := wire.NewWriter(ContinueTokenBytes)
	w.WriteUint64(t.ExpireTimestamp)
	w.WriteUint64(t.SessionID)
	w.WriteUint8(t.SessionVersion)
	return w.Bytes()
}

// UnmarshalContinueToken decodes a continue token's cleartext form.
func UnmarshalContinueToken(data []byte) (ContinueToken, error) {
	r := wire.NewReader(data)
	var t ContinueToken
	var err error
	if t.ExpireTimestamp, err = r.ReadUint64(); err != nil {
		return t, fmt.Errorf("continue token: %w", err)
	}
	if t.SessionID, err = r.ReadUint64(); err != nil {
		return t, fmt.Errorf("continue token: %w", err)
	}
	if t.SessionVersion, err = r.ReadUint8(); err != nil {
		return t, fmt.Errorf("continue token: %w", err)
	}
	return t, nil
}

// SealContinueToken seals a continue token for transmission to this relay.
func SealContinueToken(t ContinueToken, relayPub cryptobox.PublicKey, routerPriv cryptobox.PrivateKey) ([]byte, error) {
	return sealToken(t.Marshal(), relayPub, routerPriv)
}

// OpenContinueToken opens and decodes a sealed continue token.
func OpenContinueToken(sealed []byte, routerPub cryptobox.PublicKey, relayPriv cryptobox.PrivateKey) (ContinueToken, error) {
	plaintext, err := openToken(sealed, SealedContinueTokenBytes, ContinueTokenBytes, routerPub, relayPriv)
	if err != nil {
		return ContinueToken{}, err
	}
	return UnmarshalContinueToken(plaintext)
}

func sealToken(cleartext []byte, receiverPub cryptobox.PublicKey, senderPriv cryptobox.PrivateKey) ([]byte, error) {
	nonce, ciphertext, err := cryptobox.SealBox(cleartext, receiverPub, senderPriv)
	if err != nil {
		return nil, fmt.Errorf("seal token: %w", err)
	}
	out := make([]byte, 0, cryptobox.NonceSize+len(ciphertext))
	out = append(out, nonce[:]...)
	out = append(out, ciphertext...)
	return out, nil
}

func openToken(sealed []byte, wantSealedLen, wantPlainLen int, senderPub cryptobox.PublicKey, receiverPriv cryptobox.PrivateKey) ([]byte, error) {
	if len(sealed) != wantSealedLen {
		return nil, fmt.Errorf("open token: wrong length %d, want %d", len(sealed), wantSealedLen)
	}
	var nonce [cryptobox.NonceSize]byte
	copy(nonce[:], sealed[:cryptobox.NonceSize])
	ciphertext := sealed[cryptobox.NonceSize:]
	plaintext, err := cryptobox.OpenSealedBox(ciphertext, nonce, senderPub, receiverPriv)
	if err != nil {
		return nil, err
	}
	if len(plaintext) != wantPlainLen {
		return nil, fmt.Errorf("open token: decrypted length %d, want %d", len(plaintext), wantPlainLen)
	}
	return plaintext, nil
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
