// Package pingmesh implements the relay-to-relay ping scheduler and the
// sliding-window RTT/jitter/packet-loss estimator spec.md §4.G describes.
package pingmesh

import "math"

// HistorySize is the depth of the per-peer ping-history ring.
const HistorySize = 256

// StatsWindowSeconds is the lookback window used when computing route stats.
const StatsWindowSeconds = 10.0

// PingSafetySeconds excludes the most recent slice of the window from the
// packet-loss count, so in-flight pings (no chance yet of a pong) are not
// counted as lost.
const PingSafetySeconds = 1.0

// PingIntervalSeconds is how often the scheduler emits a ping to each peer.
const PingIntervalSeconds = 0.1

const noTime = -1.0

type historyEntry struct {
	sequence        uint64
	timePingSent    float64
	timePongReceived float64
}

// History is a fixed-size ring of ping/pong timestamps for one peer,
// matching relay_ping_history_t: a monotonic send-side sequence counter
// plus HistorySize slots addressed by sequence modulo the ring size.
type History struct {
	sequence uint64
	entries  [HistorySize]historyEntry
}

// NewHistory returns a cleared ping history.
func NewHistory() *History {
	h := &History{}
	h.Clear()
	return h
}

// Clear resets the ring to its empty state.
func (h *History) Clear() {
	h.sequence = 0
	for i := range h.entries {
		h.entries[i] = historyEntry{sequence: math.MaxUint64, timePingSent: noTime, timePongReceived: noTime}
	}
}

// PingSent records that a ping was just sent at the given time (seconds,
// monotonic), returning the sequence number to embed in the outbound
// packet.
func (h *History) PingSent(now float64) uint64 {
	index := h.sequence % HistorySize
	h.entries[index] = historyEntry{
		sequence:        h.sequence,
		timePingSent:    now,
		timePongReceived: noTime,
	}
	seq := h.entries[index].sequence
	h.sequence++
	return seq
}

// PongReceived records a pong at the given time, if its sequence still
// matches the live ring slot (an old, wrapped entry is ignored).
func (h *History) PongReceived(sequence uint64, now float64) {
	index := sequence % HistorySize
	entry := &h.entries[index]
	if entry.sequence == sequence {
		entry.timePongReceived = now
	}
}

// Stats is the RTT/jitter/packet-loss triple reported to the backend.
type Stats struct {
	RTTMillis        float32
	JitterMillis     float32
	PacketLossPercent float32
}

// ComputeStats implements relay_route_stats_from_ping_history verbatim:
// packet loss over [start, end-safety], RTT mean and one-sided jitter
// stddev over [start, end], in milliseconds. With no pongs observed the
// RTT is a 10s ceiling and jitter is zero; loss is 100% when pings were
// sent in the loss window, and zero only when none were.
func (h *History) ComputeStats(start, end, safety float64) Stats {
	var stats Stats

	numPingsSent, numPongsReceived := 0, 0
	for i := range h.entries {
		e := &h.entries[i]
		if e.timePingSent >= start && e.timePingSent <= end-safety {
			numPingsSent++
			if e.timePongReceived >= e.timePingSent {
				numPongsReceived++
			}
		}
	}
	if numPingsSent > 0 {
		stats.PacketLossPercent = float32(100.0 * (1.0 - float64(numPongsReceived)/float64(numPingsSent)))
	}

	meanRTT := 0.0
	numPongs := 0
	for i := range h.entries {
		e := &h.entries[i]
		if e.timePingSent >= start && e.timePingSent <= end {
			if e.timePongReceived > e.timePingSent {
				meanRTT += 1000.0 * (e.timePongReceived - e.timePingSent)
				numPongs++
			}
		}
	}
	if numPongs > 0 {
		meanRTT /= float64(numPongs)
	} else {
		meanRTT = 10000.0
	}
	stats.RTTMillis = float32(meanRTT)

	numJitterSamples := 0
	stddevRTT := 0.0
	for i := range h.entries {
		e := &h.entries[i]
		if e.timePingSent >= start && e.timePingSent <= end && e.timePongReceived > e.timePingSent {
			rtt := 1000.0 * (e.timePongReceived - e.timePingSent)
			if rtt >= meanRTT {
				errv := rtt - meanRTT
				stddevRTT += errv * errv
				numJitterSamples++
			}
		}
	}
	if numJitterSamples > 0 {
		stats.JitterMillis = float32(3.0 * math.Sqrt(stddevRTT/float64(numJitterSamples)))
	}

	return stats
}
