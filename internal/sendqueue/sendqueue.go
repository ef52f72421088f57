// Package sendqueue prioritizes a relay worker's outbound packets so that
// latency-sensitive session traffic is never stuck behind bulk control
// chatter on the same socket.
package sendqueue

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/wire"
)

// Priority is the outbound queue a packet is routed through.
type Priority uint8

const (
	// High carries session ping/pong and route/continue handshakes —
	// anything that gates whether a client's connection stays alive.
	High Priority = 0
	// Medium carries forwarded client<->server session payload.
	Medium Priority = 1
	// Low carries relay-to-relay ping mesh and near-ping traffic, which
	// tolerates extra latency far better than a player's own packets.
	Low Priority = 2

	levels = 3

	highQueueSize   = 1024
	mediumQueueSize = 2048
	lowQueueSize    = 256

	starvationTimeout = 250 * time.Millisecond
)

// Packet is one outbound datagram waiting to be written to a socket.
type Packet struct {
	Payload    []byte
	Addr       wire.Address
	Internal   bool
	Priority   Priority
	EnqueuedAt time.Time
}

// Queue is a three-level priority queue over one worker's outbound
// packets, drained by a single writer goroutine per worker.
type Queue struct {
	queues [levels]chan *Packet

	mu      sync.Mutex
	dropped [levels]uint64
}

// New returns an empty priority queue.
func New() *Queue {
	q := &Queue{}
	q.queues[High] = make(chan *Packet, highQueueSize)
	q.queues[Medium] = make(chan *Packet, mediumQueueSize)
	q.queues[Low] = make(chan *Packet, lowQueueSize)
	return q
}

// Enqueue classifies payload by packetType and queues it for send,
// reporting false if the relevant queue was full and the packet dropped.
// internal marks whether this packet must go out the internal-NIC socket
// rather than the public one (spec.md §3/§4.F's "*_internal" bit).
func (q *Queue) Enqueue(packetType byte, payload []byte, addr wire.Address, internal bool) bool {
	return q.EnqueueWithPriority(Classify(packetType), payload, addr, internal)
}

// EnqueueWithPriority queues a packet at an explicit priority level.
func (q *Queue) EnqueueWithPriority(p Priority, payload []byte, addr wire.Address, internal bool) bool {
	if p >= levels {
		p = Low
	}
	pkt := &Packet{Payload: payload, Addr: addr, Internal: internal, Priority: p, EnqueuedAt: time.Now()}

	select {
	case q.queues[p] <- pkt:
		return true
	default:
		atomic.AddUint64(&q.dropped[p], 1)
		return false
	}
}

// Dequeue returns the next packet to send, or nil if every queue is
// empty. High always drains first; Low is serviced ahead of Medium once
// its oldest packet has waited past starvationTimeout.
func (q *Queue) Dequeue() *Packet {
	select {
	case pkt := <-q.queues[High]:
		return pkt
	default:
	}

	if q.headStarving(Low) {
		select {
		case pkt := <-q.queues[Low]:
			return pkt
		default:
		}
	}

	select {
	case pkt := <-q.queues[Medium]:
		return pkt
	default:
	}

	select {
	case pkt := <-q.queues[Low]:
		return pkt
	default:
	}

	return nil
}

// DequeueBlocking waits for a packet if every queue is momentarily empty,
// otherwise behaves like Dequeue.
func (q *Queue) DequeueBlocking() *Packet {
	if pkt := q.Dequeue(); pkt != nil {
		return pkt
	}
	select {
	case pkt := <-q.queues[High]:
		return pkt
	case pkt := <-q.queues[Medium]:
		return pkt
	case pkt := <-q.queues[Low]:
		return pkt
	}
}

func (q *Queue) headStarving(p Priority) bool {
	select {
	case pkt := <-q.queues[p]:
		starving := time.Since(pkt.EnqueuedAt) > starvationTimeout
		select {
		case q.queues[p] <- pkt:
		default:
			// queue filled back up while we peeked; the packet is lost
			// rather than reordered behind a newer one.
		}
		return starving
	default:
		return false
	}
}

// Dropped returns the number of packets dropped at each priority level.
func (q *Queue) Dropped() (high, medium, low uint64) {
	return atomic.LoadUint64(&q.dropped[High]), atomic.LoadUint64(&q.dropped[Medium]), atomic.LoadUint64(&q.dropped[Low])
}

// Classify maps a relay packet type onto a send priority. Control and
// keepalive traffic (route/continue handshakes, session pings) goes
// High; forwarded session payload goes Medium; relay-mesh and near-ping
// traffic goes Low, since those peers tolerate extra queueing latency
// far better than an active player does.
func Classify(packetType byte) Priority {
	switch packetType {
	case forward.TypeRouteRequest, forward.TypeRouteResponse,
		forward.TypeContinueRequest, forward.TypeContinueResponse,
		forward.TypeSessionPing, forward.TypeSessionPong:
		return High
	case forward.TypeClientToServer, forward.TypeServerToClient:
		return Medium
	default:
		return Low
	}
}
