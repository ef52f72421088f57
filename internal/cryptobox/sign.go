package cryptobox

import "crypto/ed25519"

// VerifyEd25519 implements spec.md §4.B operation 3: verify a signature
// over an arbitrary buffer under a named public key. The router client
// uses this once, over a heartbeat response that carries a magic
// rotation.
func VerifyEd25519(publicKey ed25519.PublicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(publicKey, message, signature)
}
