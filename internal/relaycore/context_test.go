package relaycore_test

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/relaycore"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/wire"
)

func testContext(t *testing.T) *relaycore.Context {
	t.Helper()
	cfg := config.Config{
		PublicAddress:   "203.0.113.1",
		BindPort:        40000,
		BackendHostname: "backend.example.invalid",
		RelayName:       "relay-test",
	}
	return relaycore.New(cfg, config.Keys{}, zerolog.Nop())
}

func TestNewWiresDispatcherAndSelfAddr(t *testing.T) {
	c := testContext(t)
	require.Equal(t, uint16(40000), c.SelfAddr.Port)
	require.NotNil(t, c.Dispatcher)
	require.NotNil(t, c.Sessions)
	require.NotNil(t, c.Peers)
	require.NotNil(t, c.Counters)
	require.NotNil(t, c.Router)
}

func TestEvictedSessionReleasesItsEnvelopeLimiterState(t *testing.T) {
	c := testContext(t)

	tok := session.RouteToken{
		ExpireTimestamp: 100,
		SessionID:       1,
		SessionVersion:  1,
		KbpsUp:          1,
		NextAddress:     wire.Address{Tag: wire.AddressIPv4, IP: []byte{1, 2, 3, 4}, Port: 5000},
	}
	prev := wire.Address{Tag: wire.AddressIPv4, IP: []byte{9, 9, 9, 9}, Port: 1}
	s, _ := c.Sessions.Insert(tok, prev, 0)

	require.True(t, c.Dispatcher.Limiter.Allow(s, true, 100))
	require.False(t, c.Dispatcher.Limiter.Allow(s, true, 1_000_000), "far exceeds the up burst")

	_, ok := c.Sessions.Lookup(tok.SessionID, 200)
	require.False(t, ok, "session should be lazily evicted once expired")

	require.True(t, c.Dispatcher.Limiter.Allow(s, true, 10),
		"a forgotten session's limiter must reset rather than stay exhausted")
}

func TestMagicsRoundTrip(t *testing.T) {
	c := testContext(t)
	require.Zero(t, c.Magics().Current)

	var m filter.MagicTriple
	m.Current = [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	c.SetMagics(m)
	require.Equal(t, m, c.Magics())
}

func TestClosedTracksMarkClosed(t *testing.T) {
	c := testContext(t)
	require.False(t, c.Closed())
	c.MarkClosed()
	require.True(t, c.Closed())
}

func TestShuttingDownFalseUntilDrain(t *testing.T) {
	c := testContext(t)
	require.False(t, c.ShuttingDown())
}
