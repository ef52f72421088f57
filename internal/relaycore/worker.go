package relaycore

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/relaymesh/relay/internal/counters"
	"github.com/relaymesh/relay/internal/filter"
	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/sendqueue"
	"github.com/relaymesh/relay/internal/wire"
)

// receiveBufferSize must cover the largest datagram the socket is asked
// to read; RelayMTU plus the chonkle/pittle/type framing leaves headroom.
const receiveBufferSize = 2048

const socketBufferBytes = 4 * 1024 * 1024

// Worker is one SO_REUSEPORT receive goroutine, grounded on listener.go's
// receiveLoop: a UDP socket, a fixed read buffer, and a SetReadDeadline
// poll against the shared closed flag instead of a done channel, so N
// workers can share the port without coordinating shutdown through a
// single listener.
type Worker struct {
	id    int
	conn  *net.UDPConn
	// internalConn is bound to cfg.InternalAddress when set; Hop.Internal
	// traffic (spec.md §3/§4.F's "*_internal" bit) goes out this socket
	// instead of the public one. Nil when no internal NIC is configured.
	internalConn *net.UDPConn
	ctx          *Context
	queue        *sendqueue.Queue
}

// StartWorkers binds ctx.Config.ReceiveWorkers independent sockets to the
// same port via SO_REUSEPORT (spec.md §4.I) and starts their receive
// loops. Returns the workers so the caller can Close them on shutdown.
func StartWorkers(ctx *Context) ([]*Worker, error) {
	workers := make([]*Worker, 0, ctx.Config.ReceiveWorkers)
	for i := 0; i < ctx.Config.ReceiveWorkers; i++ {
		conn, err := listenReusePort(fmt.Sprintf(":%d", ctx.Config.BindPort))
		if err != nil {
			for _, w := range workers {
				w.Close()
			}
			return nil, fmt.Errorf("relaycore: worker %d: %w", i, err)
		}
		_ = conn.SetReadBuffer(socketBufferBytes)
		_ = conn.SetWriteBuffer(socketBufferBytes)

		var internalConn *net.UDPConn
		if ctx.Config.InternalAddress != "" {
			internalConn, err = listenReusePort(fmt.Sprintf("%s:%d", ctx.Config.InternalAddress, ctx.Config.BindPort))
			if err != nil {
				conn.Close()
				for _, w := range workers {
					w.Close()
				}
				return nil, fmt.Errorf("relaycore: worker %d internal socket: %w", i, err)
			}
			_ = internalConn.SetReadBuffer(socketBufferBytes)
			_ = internalConn.SetWriteBuffer(socketBufferBytes)
		}

		w := &Worker{id: i, conn: conn, internalConn: internalConn, ctx: ctx, queue: sendqueue.New()}
		workers = append(workers, w)
		go w.receiveLoop()
		go w.sendLoop()
		if internalConn != nil {
			go w.receiveInternalLoop()
		}
	}
	return workers, nil
}

func listenReusePort(addr string) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reusePortControl}
	pc, err := lc.ListenPacket(context.Background(), "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("listen udp %s: unexpected conn type %T", addr, pc)
	}
	return conn, nil
}

// Close stops this worker's receive loops by closing its sockets; the
// next ReadFromUDP call on each returns an error and the loop exits.
func (w *Worker) Close() error {
	err := w.conn.Close()
	if w.internalConn != nil {
		if ierr := w.internalConn.Close(); ierr != nil && err == nil {
			err = ierr
		}
	}
	return err
}

func (w *Worker) receiveLoop() {
	w.receiveFrom(w.conn)
}

// receiveInternalLoop mirrors receiveLoop but polls the internal-NIC
// socket; packets that arrive here are dispatched identically to public
// traffic — the internal/external split only matters for where a
// forwarded reply goes out, not how an inbound packet is handled.
func (w *Worker) receiveInternalLoop() {
	w.receiveFrom(w.internalConn)
}

func (w *Worker) receiveFrom(conn *net.UDPConn) {
	buf := make([]byte, receiveBufferSize)
	for {
		if w.ctx.Closed() {
			return
		}

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, remoteAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if w.ctx.Closed() {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		packet := make([]byte, n)
		copy(packet, buf[:n])
		w.handle(packet, wire.AddressFromUDP(remoteAddr))
	}
}

func (w *Worker) handle(data []byte, src wire.Address) {
	w.ctx.Counters.Inc(counters.PacketsReceived)
	w.ctx.Counters.Add(counters.BytesReceived, uint64(len(data)))

	if !filter.Basic(data) {
		w.ctx.Counters.Inc(counters.BasicFilterDropped)
		return
	}

	magics := w.ctx.Magics()
	if data[0] != forward.TypePassthrough &&
		!filter.Advanced(data, magics, src.AddressBytes(), src.Port, w.ctx.SelfAddr.AddressBytes(), w.ctx.SelfAddr.Port) {
		w.ctx.Counters.Inc(counters.AdvancedFilterDropped)
		return
	}

	// Relay ping/pong are peer-mesh traffic, not session forwarding —
	// handled here directly rather than inside the dispatcher so
	// internal/forward stays free of a pingmesh dependency.
	switch data[0] {
	case forward.TypeRelayPing:
		w.handleRelayPing(data, src, magics)
		return
	case forward.TypeRelayPong:
		w.handleRelayPong(data, src)
		return
	}

	now := nowSeconds()
	outcome, err := w.ctx.Dispatcher.Handle(data, src, now, magics)
	if err != nil || !outcome.Forward {
		return
	}
	w.send(outcome)
}

// sendLoop drains this worker's priority queue and writes packets to its
// socket, polling the shared closed flag the same way receiveLoop does.
func (w *Worker) sendLoop() {
	for {
		pkt := w.queue.Dequeue()
		if pkt == nil {
			if w.ctx.Closed() {
				return
			}
			time.Sleep(time.Millisecond)
			continue
		}
		w.writeNow(pkt.Payload, pkt.Addr, pkt.Internal)
	}
}

func (w *Worker) enqueue(payload []byte, addr wire.Address, internal bool) {
	if len(payload) == 0 {
		return
	}
	w.queue.Enqueue(payload[0], payload, addr, internal)
}

// writeNow picks the internal-NIC socket when internal is set and one was
// bound; if the operator never configured RELAY_INTERNAL_ADDRESS the
// packet still goes out the public socket rather than being dropped.
func (w *Worker) writeNow(payload []byte, addr wire.Address, internal bool) {
	udpAddr := addr.UDPAddr()
	if udpAddr == nil {
		return
	}

	conn := w.conn
	if internal {
		if w.internalConn != nil {
			conn = w.internalConn
		} else {
			w.ctx.Log.Warn().Msg("hop requires internal socket but none is configured, using public socket")
		}
	}

	n, err := conn.WriteToUDP(payload, udpAddr)
	if err != nil {
		return
	}
	w.ctx.Counters.Inc(counters.PacketsSent)
	w.ctx.Counters.Add(counters.BytesSent, uint64(n))
}

func frameBody(data []byte) []byte {
	if len(data) < 1+filter.ChonkleBytes+filter.PittleBytes {
		return nil
	}
	return data[1+filter.ChonkleBytes : len(data)-filter.PittleBytes]
}

func (w *Worker) handleRelayPing(data []byte, src wire.Address, magics filter.MagicTriple) {
	body := frameBody(data)
	if len(body) != 8 {
		return
	}
	out := filter.WriteTags(forward.TypeRelayPong, body, magics.Current,
		w.ctx.SelfAddr.AddressBytes(), w.ctx.SelfAddr.Port, src.AddressBytes(), src.Port)
	w.ctx.Counters.Inc(counters.RelayPingPacketForwarded)
	// Relay-to-relay mesh traffic always rides the public socket.
	w.enqueue(out, src, false)
}

func (w *Worker) handleRelayPong(data []byte, src wire.Address) {
	body := frameBody(data)
	if len(body) != 8 {
		return
	}
	sequence := binary.LittleEndian.Uint64(body)
	w.ctx.Counters.Inc(counters.RelayPongPacketReceived)

	for _, p := range w.ctx.Peers.Peers() {
		if p.Address.Equal(src) {
			p.History.PongReceived(sequence, nowFloat())
			return
		}
	}
}

func (w *Worker) send(outcome forward.Outcome) {
	w.enqueue(outcome.Payload, outcome.Hop.Address, outcome.Hop.Internal)
}
