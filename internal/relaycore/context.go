// Package relaycore owns the single relay.Context spec.md §9 calls for
// in place of the production relay's process-wide singleton: every
// receive worker, the router-client heartbeat, and the ping scheduler
// all share one of these instead of touching package-level state.
package relaycore

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/counters"
	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/pingmesh"
	"github.com/relaymesh/relay/internal/routerclient"
	"github.com/relaymesh/relay/internal/session"
	"github.com/relaymesh/relay/internal/wire"
)

// Context bundles every piece of shared state one running relay needs.
// It replaces the teacher's hub.go-style Hub (one mutex-guarded
// sessions map) plus the source's global `relay` singleton with a single
// explicitly-constructed value.
type Context struct {
	Config config.Config
	Keys   config.Keys
	Log    zerolog.Logger

	Counters   *counters.Array
	Sessions   *session.Table
	Peers      *pingmesh.Manager
	Dispatcher *forward.Dispatcher
	Router     *routerclient.Client
	SelfAddr   wire.Address

	// RelayToken is the 32-byte challenge the backend echoed back in
	// relay_init; relay_update re-sends it on every heartbeat.
	RelayToken [32]byte

	magicsMu sync.RWMutex
	magics   filter.MagicTriple

	closed       int32
	shuttingDown int32
}

// New wires every component from a loaded configuration. It performs no
// I/O itself — callers run Bootstrap to talk to the backend.
func New(cfg config.Config, keys config.Keys, log zerolog.Logger) *Context {
	c := counters.New()
	sessions := session.NewTable(c)
	limiter := forward.NewEnvelopeLimiter()
	// Release a session's rate-limiter state as soon as the table evicts
	// it, instead of leaking one *rate.Limiter pair per session for the
	// life of the process.
	sessions.SetEvictionHook(limiter.Forget)

	selfAddr, err := ParseHostPort(cfg.PublicAddress, cfg.BindPort)
	if err != nil {
		// Config.Validate does not check PublicAddress; when it does not
		// parse, SelfAddr is left as the none address.
		selfAddr = wire.NoneAddress
	}

	return &Context{
		Config:   cfg,
		Keys:     keys,
		Log:      log,
		Counters: c,
		Sessions: sessions,
		Peers:    pingmesh.NewManager(),
		SelfAddr: selfAddr,
		Dispatcher: &forward.Dispatcher{
			Sessions:  sessions,
			Counters:  c,
			RouterPub: keys.RouterPublic,
			RelayPriv: keys.RelayPrivate,
			SelfAddr:  selfAddr,
			Limiter:   limiter,
		},
		Router: routerclient.New(cfg.BackendHostname, keys.RouterPublic, keys.RelayPrivate),
	}
}

// Magics returns the current rotating magic triple.
func (c *Context) Magics() filter.MagicTriple {
	c.magicsMu.RLock()
	defer c.magicsMu.RUnlock()
	return c.magics
}

// SetMagics installs a freshly received magic triple from a heartbeat
// response.
func (c *Context) SetMagics(m filter.MagicTriple) {
	c.magicsMu.Lock()
	c.magics = m
	c.magicsMu.Unlock()
}

// Closed reports whether Shutdown has been called.
func (c *Context) Closed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}

// MarkClosed flips the shared closed flag every receive worker polls,
// matching the teacher's atomic-int32 "closed" pattern in Hub/Listener.
func (c *Context) MarkClosed() {
	atomic.StoreInt32(&c.closed, 1)
}
