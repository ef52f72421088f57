package config_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/config"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	key := make([]byte, 32)
	b64 := base64.StdEncoding.EncodeToString(key)
	t.Setenv("RELAY_PUBLIC_ADDRESS", "203.0.113.5")
	t.Setenv("RELAY_BIND_PORT", "40000")
	t.Setenv("RELAY_PUBLIC_KEY", b64)
	t.Setenv("RELAY_PRIVATE_KEY", b64)
	t.Setenv("ROUTER_PUBLIC_KEY", b64)
	t.Setenv("RELAY_BACKEND_HOSTNAME", "http://backend.example")
}

func TestLoadSucceedsWithDefaults(t *testing.T) {
	setRequiredEnv(t)
	c, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, "relay", c.RelayName)
	require.Equal(t, "info", c.LogLevel)
	require.Equal(t, 4, c.ReceiveWorkers)
}

func TestLoadFailsWithoutRequiredField(t *testing.T) {
	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadFailsOnInvalidBase64Key(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RELAY_PUBLIC_KEY", "not-valid-base64!!")
	_, err := config.Load()
	require.Error(t, err)
}

func TestDecodeKeysRoundTrip(t *testing.T) {
	setRequiredEnv(t)
	c, err := config.Load()
	require.NoError(t, err)
	keys, err := c.DecodeKeys()
	require.NoError(t, err)
	require.Equal(t, [32]byte{}, [32]byte(keys.RelayPublic))
}

func TestDecodeKeysLeavesRouterSigningPublicNilWhenUnset(t *testing.T) {
	setRequiredEnv(t)
	c, err := config.Load()
	require.NoError(t, err)
	keys, err := c.DecodeKeys()
	require.NoError(t, err)
	require.Nil(t, keys.RouterSigningPublic)
}

func TestDecodeKeysDecodesRouterSigningPublicWhenSet(t *testing.T) {
	setRequiredEnv(t)
	key := make([]byte, 32)
	key[0] = 0x42
	t.Setenv("ROUTER_SIGNING_KEY", base64.StdEncoding.EncodeToString(key))

	c, err := config.Load()
	require.NoError(t, err)
	keys, err := c.DecodeKeys()
	require.NoError(t, err)
	require.Len(t, keys.RouterSigningPublic, 32)
	require.Equal(t, byte(0x42), keys.RouterSigningPublic[0])
}
