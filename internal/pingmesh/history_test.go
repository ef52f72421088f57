package pingmesh_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/pingmesh"
)

func TestPingSentAssignsIncreasingSequence(t *testing.T) {
	h := pingmesh.NewHistory()
	s0 := h.PingSent(0.0)
	s1 := h.PingSent(0.1)
	require.Equal(t, uint64(0), s0)
	require.Equal(t, uint64(1), s1)
}

func TestStatsWithNoTrafficUsesDefaults(t *testing.T) {
	h := pingmesh.NewHistory()
	stats := h.ComputeStats(0, 10, pingmesh.PingSafetySeconds)
	require.Equal(t, float32(10000.0), stats.RTTMillis)
	require.Equal(t, float32(0), stats.JitterMillis)
	require.Equal(t, float32(0), stats.PacketLossPercent)
}

func TestStatsComputesRTTFromMatchedPong(t *testing.T) {
	h := pingmesh.NewHistory()
	seq := h.PingSent(1.0)
	h.PongReceived(seq, 1.05)

	stats := h.ComputeStats(0, 10, pingmesh.PingSafetySeconds)
	require.InDelta(t, 50.0, stats.RTTMillis, 0.01)
	require.Equal(t, float32(0), stats.PacketLossPercent)
}

func TestStatsCountsLossExcludingSafetyMargin(t *testing.T) {
	h := pingmesh.NewHistory()
	// 10 pings sent across the window, evenly spaced, only the first 5 get
	// a pong; the last ping falls inside the safety margin and must not
	// count toward pings-sent at all.
	for i := 0; i < 9; i++ {
		seq := h.PingSent(float64(i))
		if i < 5 {
			h.PongReceived(seq, float64(i)+0.02)
		}
	}
	h.PingSent(9.5) // inside [end-safety, end], excluded from loss count

	stats := h.ComputeStats(0, 10, 1.0)
	require.InDelta(t, float64(100.0*(1.0-5.0/9.0)), float64(stats.PacketLossPercent), 0.5)
}

func TestPongReceivedIgnoresStaleWrappedSequence(t *testing.T) {
	h := pingmesh.NewHistory()
	seq := h.PingSent(0.0)
	for i := 0; i < pingmesh.HistorySize; i++ {
		h.PingSent(float64(i + 1))
	}
	// seq's ring slot has long since been overwritten by the wraparound
	// pings above; a late pong for it must not corrupt the new occupant.
	h.PongReceived(seq, 9999.0)

	stats := h.ComputeStats(0, 1, pingmesh.PingSafetySeconds)
	require.Equal(t, float32(0), stats.PacketLossPercent)
}
