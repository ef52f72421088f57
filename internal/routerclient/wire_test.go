package routerclient

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/cryptobox"
)

func TestMarshalInitEmbedsSealedToken(t *testing.T) {
	routerPub, routerPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	_, relayPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)

	var token [relayTokenBytes]byte
	copy(token[:], []byte("0123456789abcdef0123456789abcdef"))

	data, err := marshalInit(InitRequest{RelayAddress: "127.0.0.1:40000", RelayToken: token}, routerPub, relayPriv)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	_ = routerPriv
}

func TestInitResponseRoundTrip(t *testing.T) {
	w := buildInitResponseBytes(t, 555, [relayTokenBytes]byte{1, 2, 3})
	resp, err := unmarshalInitResponse(w)
	require.NoError(t, err)
	require.Equal(t, uint64(555), resp.RouterTimestamp)
	require.Equal(t, byte(1), resp.RelayToken[0])
}

func buildInitResponseBytes(t *testing.T, timestamp uint64, token [relayTokenBytes]byte) []byte {
	t.Helper()
	buf := make([]byte, 0, 4+8+relayTokenBytes)
	buf = appendU32(buf, initResponseVersion)
	buf = appendU64(buf, timestamp)
	buf = append(buf, token[:]...)
	return buf
}

func TestUpdateRequestMarshalIncludesCounters(t *testing.T) {
	req := UpdateRequest{
		RelayAddress: "127.0.0.1:1000",
		PeerStats:    []PeerStat{{PeerID: 1, RTT: 10, Jitter: 1, Loss: 0}},
		SessionCount: 3,
		Shutdown:     true,
		BuildVersion: "1.0.0",
		Counters:     []uint64{1, 2, 3},
	}
	data := marshalUpdate(req)
	require.NotEmpty(t, data)
}

func TestUpdateResponseRoundTripV1WithMagics(t *testing.T) {
	buf := make([]byte, 0, 256)
	buf = appendU32(buf, 1)
	buf = appendU64(buf, 42)
	buf = appendU32(buf, 1) // num peers
	buf = appendU64(buf, 7)
	buf = appendString(buf, "10.0.0.1:5000")
	buf = append(buf, 1) // internal
	buf = appendString(buf, "1.2.3")
	buf = append(buf, bytes8(9)...)
	buf = append(buf, bytes8(8)...)
	buf = append(buf, bytes8(7)...)

	resp, err := unmarshalUpdateResponse(buf)
	require.NoError(t, err)
	require.Equal(t, uint64(42), resp.RouterTimestamp)
	require.Len(t, resp.Peers, 1)
	require.Equal(t, uint64(7), resp.Peers[0].ID)
	require.Equal(t, "10.0.0.1:5000", resp.Peers[0].Address)
	require.True(t, resp.Peers[0].Internal)
	require.Equal(t, "1.2.3", resp.TargetVersion)
	require.Equal(t, byte(9), resp.Magics.Upcoming[0])
	require.Equal(t, byte(8), resp.Magics.Current[0])
	require.Equal(t, byte(7), resp.Magics.Previous[0])
}

func TestUpdateResponseRoundTripV2WithRotationSignature(t *testing.T) {
	buf := make([]byte, 0, 256)
	buf = appendU32(buf, 2)
	buf = appendU64(buf, 42)
	buf = appendU32(buf, 0) // num peers
	buf = appendString(buf, "1.2.3")
	buf = append(buf, bytes8(9)...)
	buf = append(buf, bytes8(8)...)
	buf = append(buf, bytes8(7)...)
	sig := make([]byte, rotationSignatureBytes)
	for i := range sig {
		sig[i] = byte(i)
	}
	buf = append(buf, sig...)

	resp, err := unmarshalUpdateResponse(buf)
	require.NoError(t, err)
	require.Equal(t, sig, resp.RotationSignature)
}

func TestUpdateResponseRejectsUnsupportedVersion(t *testing.T) {
	buf := appendU32(nil, maxUpdateResponseVersion+1)
	_, err := unmarshalUpdateResponse(buf)
	require.Error(t, err)
}

func appendU32(b []byte, v uint32) []byte {
	return append(b, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU64(b []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		b = append(b, byte(v>>(8*i)))
	}
	return b
}

func appendString(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func bytes8(first byte) []byte {
	out := make([]byte, 8)
	out[0] = first
	return out
}
