// Package config holds the relay's configuration record (spec.md §6):
// everything bootstrap reads from the environment, handed to the core as
// a plain struct. Nothing under internal/ reads the environment itself —
// matching spec.md's explicit "the core receives these as a
// configuration record ... it does not read the environment itself".
package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"

	"github.com/caarlos0/env/v10"

	"github.com/relaymesh/relay/internal/cryptobox"
)

// Config is the bootstrap-time environment binding. Key fields are
// base64 text on the wire (env vars can't carry raw binary) and are
// decoded into the Curve25519 types the core actually uses.
type Config struct {
	PublicAddress   string `env:"RELAY_PUBLIC_ADDRESS,required"`
	BindPort        uint16 `env:"RELAY_BIND_PORT,required"`
	InternalAddress string `env:"RELAY_INTERNAL_ADDRESS"`

	RelayPublicKeyB64  string `env:"RELAY_PUBLIC_KEY,required"`
	RelayPrivateKeyB64 string `env:"RELAY_PRIVATE_KEY,required"`
	RouterPublicKeyB64 string `env:"ROUTER_PUBLIC_KEY,required"`

	// RouterSigningKeyB64 is the router's Ed25519 public key, used to
	// verify a version-2 relay_update response's magic-rotation
	// signature (spec.md §4.B operation 3). Optional: a router running
	// an older protocol version never sends a signed rotation, and the
	// relay falls back to trusting the transport alone for it.
	RouterSigningKeyB64 string `env:"ROUTER_SIGNING_KEY"`

	BackendHostname string `env:"RELAY_BACKEND_HOSTNAME,required"`
	RelayName       string `env:"RELAY_NAME" envDefault:"relay"`
	LogLevel        string `env:"RELAY_LOG_LEVEL" envDefault:"info"`

	ReceiveWorkers int `env:"RELAY_RECEIVE_WORKERS" envDefault:"4"`
}

// Keys is the decoded key material a Config's base64 fields carry.
type Keys struct {
	RelayPublic  cryptobox.PublicKey
	RelayPrivate cryptobox.PrivateKey
	RouterPublic cryptobox.PublicKey

	// RouterSigningPublic verifies relay_update's signed magic rotation.
	// Nil when RouterSigningKeyB64 was left unset.
	RouterSigningPublic ed25519.PublicKey
}

// Load reads and validates the configuration from the process
// environment. Bootstrap failure here is fatal per spec.md §7's "Backend
// init failure" row — the caller logs and exits 1.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("config: parse environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks the fields Parse can't express through struct tags.
func (c Config) Validate() error {
	if c.BindPort == 0 {
		return fmt.Errorf("config: RELAY_BIND_PORT must be nonzero")
	}
	if c.ReceiveWorkers <= 0 {
		return fmt.Errorf("config: RELAY_RECEIVE_WORKERS must be positive")
	}
	if _, err := c.DecodeKeys(); err != nil {
		return err
	}
	return nil
}

// DecodeKeys base64-decodes the three Curve25519 keys and, when set, the
// Ed25519 router signing key.
func (c Config) DecodeKeys() (Keys, error) {
	relayPub, err := decodeKey(c.RelayPublicKeyB64, "RELAY_PUBLIC_KEY")
	if err != nil {
		return Keys{}, err
	}
	relayPriv, err := decodeKey(c.RelayPrivateKeyB64, "RELAY_PRIVATE_KEY")
	if err != nil {
		return Keys{}, err
	}
	routerPub, err := decodeKey(c.RouterPublicKeyB64, "ROUTER_PUBLIC_KEY")
	if err != nil {
		return Keys{}, err
	}

	var signingPub ed25519.PublicKey
	if c.RouterSigningKeyB64 != "" {
		raw, err := decodeKey(c.RouterSigningKeyB64, "ROUTER_SIGNING_KEY")
		if err != nil {
			return Keys{}, err
		}
		signingPub = ed25519.PublicKey(raw[:])
	}

	return Keys{
		RelayPublic:         cryptobox.PublicKey(relayPub),
		RelayPrivate:        cryptobox.PrivateKey(relayPriv),
		RouterPublic:        cryptobox.PublicKey(routerPub),
		RouterSigningPublic: signingPub,
	}, nil
}

func decodeKey(b64, field string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return out, fmt.Errorf("config: %s: invalid base64: %w", field, err)
	}
	if len(raw) != len(out) {
		return out, fmt.Errorf("config: %s: want %d decoded bytes, got %d", field, len(out), len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
