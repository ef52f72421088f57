package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/cryptobox"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/wire"
)

func TestRouteTokenRoundTrip(t *testing.T) {
	routerPub, routerPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	relayPub, relayPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)

	tok := session.RouteToken{
		ExpireTimestamp: 123456,
		SessionID:       0xAABBCCDD11223344,
		SessionVersion:  3,
		KbpsUp:          512,
		KbpsDown:        2048,
		NextAddress:     wire.Address{Tag: wire.AddressIPv4, IP: []byte{10, 0, 0, 9}, Port: 40000},
		NextInternal:    true,
		PrevInternal:    false,
	}
	copy(tok.PrivateKey[:], []byte("0123456789abcdef0123456789abcdef"))

	sealed, err := session.SealRouteToken(tok, relayPub, routerPriv)
	require.NoError(t, err)
	require.Len(t, sealed, session.SealedRouteTokenBytes)

	got, err := session.OpenRouteToken(sealed, routerPub, relayPriv)
	require.NoError(t, err)
	require.Equal(t, tok.ExpireTimestamp, got.ExpireTimestamp)
	require.Equal(t, tok.SessionID, got.SessionID)
	require.Equal(t, tok.SessionVersion, got.SessionVersion)
	require.Equal(t, tok.KbpsUp, got.KbpsUp)
	require.Equal(t, tok.KbpsDown, got.KbpsDown)
	require.True(t, tok.NextAddress.Equal(got.NextAddress))
	require.Equal(t, tok.NextInternal, got.NextInternal)
	require.Equal(t, tok.PrevInternal, got.PrevInternal)
	require.Equal(t, tok.PrivateKey, got.PrivateKey)
}

func TestRouteTokenOpenRejectsWrongKey(t *testing.T) {
	routerPub, routerPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	relayPub, _, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	_, wrongPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)

	sealed, err := session.SealRouteToken(session.RouteToken{SessionID: 1}, relayPub, routerPriv)
	require.NoError(t, err)

	_, err = session.OpenRouteToken(sealed, routerPub, wrongPriv)
	require.Error(t, err)
}

func TestRouteTokenOpenRejectsWrongLength(t *testing.T) {
	routerPub, _, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	_, relayPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)

	_, err = session.OpenRouteToken(make([]byte, session.SealedRouteTokenBytes-1), routerPub, relayPriv)
	require.Error(t, err)
}

func TestContinueTokenRoundTrip(t *testing.T) {
	routerPub, routerPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)
	relayPub, relayPriv, err := cryptobox.GenerateKeyPair()
	require.NoError(t, err)

	tok := session.ContinueToken{
		ExpireTimestamp: 999,
		SessionID:       42,
		SessionVersion:  7,
	}

	sealed, err := session.SealContinueToken(tok, relayPub, routerPriv)
	require.NoError(t, err)
	require.Len(t, sealed, session.SealedContinueTokenBytes)

	got, err := session.OpenContinueToken(sealed, routerPub, relayPriv)
	require.NoError(t, err)
	require.Equal(t, tok, got)
}
