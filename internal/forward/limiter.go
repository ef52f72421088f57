package forward

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/relaymesh/relay/internal/session"
)

// EnvelopeLimiter enforces the per-session kbps-up/kbps-down caps carried
// in the route token (spec.md §4.F's "Per-session envelope limit"). The
// source ships this logic commented out; spec.md §9 calls that an open
// question resolved in favor of enforcement, so every budgeted payload
// packet passes through here before being forwarded.
type EnvelopeLimiter struct {
	mu       sync.Mutex
	limiters map[*session.Session]*directionalLimiters
}

type directionalLimiters struct {
	up   *rate.Limiter
	down *rate.Limiter
}

// NewEnvelopeLimiter returns an empty limiter registry.
func NewEnvelopeLimiter() *EnvelopeLimiter {
	return &EnvelopeLimiter{limiters: make(map[*session.Session]*directionalLimiters)}
}

// Allow reports whether payloadBytes may be forwarded right now for s in
// the given direction (upstream = client-to-server, kbps-up; downstream =
// server-to-client, kbps-down), consuming that many bytes from the
// session's token bucket if so.
func (l *EnvelopeLimiter) Allow(s *session.Session, upstream bool, payloadBytes int) bool {
	lim := l.limiterFor(s, upstream)
	if lim == nil {
		// A zero kbps budget in the token means "unlimited" — the field
		// is only meaningful when the router actually wants to cap a
		// session, matching how the disabled source treated a zero rate.
		return true
	}
	return lim.AllowN(time.Now(), payloadBytes)
}

func (l *EnvelopeLimiter) limiterFor(s *session.Session, upstream bool) *rate.Limiter {
	kbps := s.KbpsUp
	if !upstream {
		kbps = s.KbpsDown
	}
	if kbps == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	pair, ok := l.limiters[s]
	if !ok {
		pair = &directionalLimiters{}
		l.limiters[s] = pair
	}

	bytesPerSecond := rate.Limit(kbps) * 1000 / 8
	burst := int(kbps) * 1000 / 8
	if burst < 1 {
		burst = 1
	}

	if upstream {
		if pair.up == nil {
			pair.up = rate.NewLimiter(bytesPerSecond, burst)
		}
		return pair.up
	}
	if pair.down == nil {
		pair.down = rate.NewLimiter(bytesPerSecond, burst)
	}
	return pair.down
}

// Forget releases any limiter state held for s, called when a session is
// evicted so the registry doesn't grow without bound.
func (l *EnvelopeLimiter) Forget(s *session.Session) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, s)
}
