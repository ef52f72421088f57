package session

import (
	"sync"

	"github.com/relaymesh/relay/internal/counters"
	"github.com/relaymesh/relay/internal/wire"
)

// Table is the session-id → Session map spec.md §4.E describes: a single
// mutex guards all reads and writes, matching the teacher's own
// Hub.sessions design rather than an index-based arena.
type Table struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	counters *counters.Array
	onEvict  func(*Session)
}

// SetEvictionHook installs fn to be called, outside the table's lock,
// whenever a session leaves the table through lazy expiry (Lookup) or
// the periodic Sweep. Insert never calls it: neither when it refreshes a
// session in place nor when it replaces an expired or older-version entry
// with a new Session. Lets a caller-owned registry
// keyed on *Session (such as forward.EnvelopeLimiter) release its state
// without the table importing that package.
func (t *Table) SetEvictionHook(fn func(*Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEvict = fn
}

// NewTable builds an empty session table.
func NewTable(c *counters.Array) *Table {
	return &Table{
		sessions: make(map[uint64]*Session),
		counters: c,
	}
}

// InsertResult reports what Insert actually did, so callers can log or
// count precisely.
type InsertResult int

const (
	InsertCreated InsertResult = iota
	InsertIdempotent
	InsertUpgradedVersion
	InsertRejectedAdversarial
)

// Insert installs a session from a freshly decrypted, non-expired route
// token, applying spec.md §9's concurrent-insertion-race rules:
//   - absent: create.
//   - present, identical (id, version, private_key, next_address,
//     prev_address, expire): idempotent no-op, already installed.
//   - present, higher incoming session_version: overwrite.
//   - present, same id+version but differing private_key: reject as
//     adversarial, existing session is left untouched.
func (t *Table) Insert(tok RouteToken, prevAddr wire.Address, now uint64) (*Session, InsertResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.sessions[tok.SessionID]
	if !ok || (existing.ExpireAt != 0 && now > existing.ExpireAt) {
		s := newSession(tok, prevAddr)
		t.sessions[tok.SessionID] = s
		if t.counters != nil {
			t.counters.Inc(counters.RouteRequestPacketSessionCreated)
		}
		return s, InsertCreated
	}

	if existing.Version == tok.SessionVersion {
		if sameInstallation(existing, tok, prevAddr) {
			return existing, InsertIdempotent
		}
		if existing.PrivateKey != tok.PrivateKey {
			if t.counters != nil {
				t.counters.Inc(counters.RouteRequestPacketSessionVersionConflict)
			}
			return existing, InsertRejectedAdversarial
		}
		// Same key, differing address/TTL fields: refresh in place.
		existing.ExpireAt = tok.ExpireTimestamp
		existing.NextAddress = tok.NextAddress
		existing.PrevAddress = prevAddr
		existing.NextInternal = tok.NextInternal
		existing.PrevInternal = tok.PrevInternal
		if t.counters != nil {
			t.counters.Inc(counters.RouteRequestPacketSessionUpdated)
		}
		return existing, InsertUpgradedVersion
	}

	if tok.SessionVersion > existing.Version {
		s := newSession(tok, prevAddr)
		t.sessions[tok.SessionID] = s
		if t.counters != nil {
			t.counters.Inc(counters.RouteRequestPacketSessionUpdated)
		}
		return s, InsertUpgradedVersion
	}

	// Incoming version is stale relative to what's installed: ignore,
	// keep serving the existing (newer) session.
	if t.counters != nil {
		t.counters.Inc(counters.RouteRequestPacketSessionVersionConflict)
	}
	return existing, InsertRejectedAdversarial
}

// Refresh extends an existing session's TTL from a decrypted continue
// token. Returns false (and counts CONTINUE_REQUEST_PACKET_SESSION_EXPIRED)
// when no live session matches (id, version).
func (t *Table) Refresh(tok ContinueToken, now uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[tok.SessionID]
	if !ok || s.Version != tok.SessionVersion || (s.ExpireAt != 0 && now > s.ExpireAt) {
		if t.counters != nil {
			t.counters.Inc(counters.ContinueRequestPacketSessionExpired)
		}
		return false
	}
	s.ExpireAt = tok.ExpireTimestamp
	if t.counters != nil {
		t.counters.Inc(counters.ContinueRequestPacketSessionRefreshed)
	}
	return true
}

// Lookup returns the session for id if present and not expired as of now.
// A lazy-expired session is evicted on the spot, matching spec.md §4.E's
// "destroy lazily when any ingress observes now > expire_timestamp".
func (t *Table) Lookup(id uint64, now uint64) (*Session, bool) {
	t.mu.RLock()
	s, ok := t.sessions[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.ExpireAt != 0 && now > s.ExpireAt {
		t.mu.Lock()
		evicted := false
		if cur, still := t.sessions[id]; still && cur == s {
			delete(t.sessions, id)
			evicted = true
		}
		hook := t.onEvict
		t.mu.Unlock()
		if evicted && hook != nil {
			hook(s)
		}
		return nil, false
	}
	return s, true
}

// Sweep evicts every session expired as of now — the periodic
// garbage-collection pass spec.md §4.E names alongside lazy eviction.
func (t *Table) Sweep(now uint64) int {
	t.mu.Lock()
	var evicted []*Session
	for id, s := range t.sessions {
		if s.ExpireAt != 0 && now > s.ExpireAt {
			delete(t.sessions, id)
			evicted = append(evicted, s)
		}
	}
	if len(evicted) > 0 && t.counters != nil {
		t.counters.Add(counters.SessionsExpiredSweep, uint64(len(evicted)))
	}
	hook := t.onEvict
	t.mu.Unlock()

	if hook != nil {
		for _, s := range evicted {
			hook(s)
		}
	}
	return len(evicted)
}

// Len returns the current session count, for heartbeat reporting.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
