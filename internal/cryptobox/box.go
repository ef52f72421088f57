// Package cryptobox wraps the three crypto contracts spec.md §4.B names:
// sealed-box token decryption, ChaCha20-Poly1305 header sealing, and
// Ed25519 signature verification. It never implements a primitive
// itself — only the envelope (key sizes, nonce layout, associated data)
// the relay's wire format expects around them.
package cryptobox

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	// PublicKeySize and PrivateKeySize are the Curve25519 key sizes used
	// by every sealed box in the protocol (router keypair, relay keypair).
	PublicKeySize  = 32
	PrivateKeySize = 32

	// NonceSize is the crypto_box nonce length.
	NonceSize = 24

	// MACSize is the Poly1305 tag crypto_box_easy appends.
	MACSize = box.Overhead
)

// ErrSealOpenFailed covers any sealed-box decryption failure: wrong keys,
// tampered ciphertext, or a truncated buffer. The caller's only valid
// response is to silently drop the packet (spec.md §4.B, §7).
var ErrSealOpenFailed = errors.New("cryptobox: sealed box authentication failed")

// PublicKey and PrivateKey are the Curve25519 keypair halves.
type PublicKey [PublicKeySize]byte
type PrivateKey [PrivateKeySize]byte

// GenerateKeyPair creates a fresh Curve25519 keypair, used by the relay
// to mint the challenge it seals in relay_init.
func GenerateKeyPair() (PublicKey, PrivateKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return PublicKey{}, PrivateKey{}, fmt.Errorf("generate keypair: %w", err)
	}
	return PublicKey(*pub), PrivateKey(*priv), nil
}

// SealBox encrypts plaintext for receiverPub using senderPriv, returning
// a random nonce and the ciphertext (plaintext length + MACSize). This is
// the sender's side of a route/continue token or the init challenge; the
// relay itself only ever opens sealed boxes, never seals new ones for
// on-wire tokens, but the operation is exercised directly in tests and by
// the router-client challenge.
func SealBox(plaintext []byte, receiverPub PublicKey, senderPriv PrivateKey) (nonce [NonceSize]byte, ciphertext []byte, err error) {
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, nil, fmt.Errorf("generate nonce: %w", err)
	}
	pub := [PublicKeySize]byte(receiverPub)
	priv := [PrivateKeySize]byte(senderPriv)
	ciphertext = box.Seal(nil, plaintext, &nonce, &pub, &priv)
	return nonce, ciphertext, nil
}

// OpenSealedBox implements spec.md §4.B operation 1: "Open sealed
// token(ciphertext, nonce, sender_pub, receiver_priv) -> plaintext |
// fail". Failure is intentionally not constant-time — the only recovery
// on failure is a silent packet drop, never a crypto-adjacent timing
// concern, since the relay never retries with alternate keys.
func OpenSealedBox(ciphertext []byte, nonce [NonceSize]byte, senderPub PublicKey, receiverPriv PrivateKey) ([]byte, error) {
	pub := [PublicKeySize]byte(senderPub)
	priv := [PrivateKeySize]byte(receiverPriv)
	plaintext, ok := box.Open(nil, ciphertext, &nonce, &pub, &priv)
	if !ok {
		return nil, ErrSealOpenFailed
	}
	return plaintext, nil
}
