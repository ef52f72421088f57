package relaycore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/relaycore"
	"github.com/relaymesh/relay/internal/wire"
)

func TestParseHostPortAcceptsLiteralIP(t *testing.T) {
	addr, err := relaycore.ParseHostPort("203.0.113.9", 40000)
	require.NoError(t, err)
	require.Equal(t, wire.AddressIPv4, addr.Tag)
	require.Equal(t, uint16(40000), addr.Port)
	require.Equal(t, "203.0.113.9", addr.IP.String())
}

func TestParseHostPortStringRoundTrips(t *testing.T) {
	addr, err := relaycore.ParseHostPortString("198.51.100.4:51000")
	require.NoError(t, err)
	require.Equal(t, uint16(51000), addr.Port)
	require.Equal(t, "198.51.100.4", addr.IP.String())
}

func TestParseHostPortStringRejectsMissingPort(t *testing.T) {
	_, err := relaycore.ParseHostPortString("198.51.100.4")
	require.Error(t, err)
}

func TestParseHostPortStringRejectsNonNumericPort(t *testing.T) {
	_, err := relaycore.ParseHostPortString("198.51.100.4:notaport")
	require.Error(t, err)
}
