package forward_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/session"
)

func TestAllowUnlimitedWhenKbpsZero(t *testing.T) {
	l := forward.NewEnvelopeLimiter()
	s := &session.Session{KbpsUp: 0, KbpsDown: 0}
	require.True(t, l.Allow(s, true, 10_000_000))
	require.True(t, l.Allow(s, false, 10_000_000))
}

func TestAllowEnforcesBudgetPerDirection(t *testing.T) {
	l := forward.NewEnvelopeLimiter()
	s := &session.Session{KbpsUp: 1, KbpsDown: 1} // 125 bytes/sec burst each way

	require.True(t, l.Allow(s, true, 100))
	require.False(t, l.Allow(s, true, 1_000_000), "far exceeds the up burst")

	// Down direction has its own independent bucket.
	require.True(t, l.Allow(s, false, 100))
}

func TestForgetReleasesLimiterState(t *testing.T) {
	l := forward.NewEnvelopeLimiter()
	s := &session.Session{KbpsUp: 1}
	require.False(t, l.Allow(s, true, 1_000_000))

	l.Forget(s)

	// A fresh bucket is recreated on next use and starts with a full burst.
	require.True(t, l.Allow(s, true, 10))
}
