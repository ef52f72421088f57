// Package nearping implements the stateless client-to-relay latency probe
// spec.md §4.F's type 20/21 row describes: a client-originated near ping
// bounced back as a near pong with nothing kept in memory.
package nearping

import "fmt"

// PayloadBytes is the fixed body size of both near ping and near pong:
// an 8-byte sequence plus an 8-byte session id.
const PayloadBytes = 16

// PacketTypePing and PacketTypePong are the wire type bytes (spec.md §4.F).
const (
	PacketTypePing = 20
	PacketTypePong = 21
)

// Respond rewrites a received near-ping body into its near-pong reply:
// an identical copy of the payload, which the dispatcher then frames
// under type byte 21. The relay never
// parses the sequence or session id fields — it only echoes them back.
func Respond(body []byte) ([]byte, error) {
	if len(body) != PayloadBytes {
		return nil, fmt.Errorf("nearping: wrong payload length %d, want %d", len(body), PayloadBytes)
	}
	out := make([]byte, len(body))
	copy(out, body)
	return out, nil
}
