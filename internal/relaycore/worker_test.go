package relaycore

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/sendqueue"
	"github.com/relaymesh/relay/internal/wire"
)

func listenLoopback(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newWriteTestWorker(t *testing.T, withInternal bool) (*Worker, *net.UDPConn, *net.UDPConn) {
	t.Helper()
	publicListener := listenLoopback(t)
	publicConn, err := net.DialUDP("udp", nil, publicListener.LocalAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { publicConn.Close() })

	var internalListener, internalConn *net.UDPConn
	if withInternal {
		internalListener = listenLoopback(t)
		internalConn, err = net.DialUDP("udp", nil, internalListener.LocalAddr().(*net.UDPAddr))
		require.NoError(t, err)
		t.Cleanup(func() { internalConn.Close() })
	}

	w := &Worker{
		id:           0,
		conn:         publicConn,
		internalConn: internalConn,
		ctx:          newInternalTestContext(t),
		queue:        sendqueue.New(),
	}
	return w, publicListener, internalListener
}

func recvOne(t *testing.T, conn *net.UDPConn) []byte {
	t.Helper()
	buf := make([]byte, 512)
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	return buf[:n]
}

func TestWriteNowUsesPublicSocketWhenNotInternal(t *testing.T) {
	w, publicListener, _ := newWriteTestWorker(t, true)
	addr := w.conn.LocalAddr().(*net.UDPAddr)

	w.writeNow([]byte("hello"), wire.AddressFromUDP(addr), false)

	got := recvOne(t, publicListener)
	require.Equal(t, "hello", string(got))
}

func TestWriteNowUsesInternalSocketWhenRequested(t *testing.T) {
	w, _, internalListener := newWriteTestWorker(t, true)
	addr := w.internalConn.LocalAddr().(*net.UDPAddr)

	w.writeNow([]byte("hello"), wire.AddressFromUDP(addr), true)

	got := recvOne(t, internalListener)
	require.Equal(t, "hello", string(got))
}

func TestWriteNowFallsBackToPublicSocketWhenNoInternalConfigured(t *testing.T) {
	w, publicListener, _ := newWriteTestWorker(t, false)
	addr := w.conn.LocalAddr().(*net.UDPAddr)

	w.writeNow([]byte("hello"), wire.AddressFromUDP(addr), true)

	got := recvOne(t, publicListener)
	require.Equal(t, "hello", string(got))
}

func TestSendPicksSocketFromHopInternalFlag(t *testing.T) {
	w, _, internalListener := newWriteTestWorker(t, true)
	addr := w.internalConn.LocalAddr().(*net.UDPAddr)

	w.send(forward.Outcome{
		Forward: true,
		Payload: []byte{forward.TypeClientToServer, 1, 2, 3},
		Hop:     forward.Hop{Address: wire.AddressFromUDP(addr), Internal: true},
	})

	pkt := w.queue.Dequeue()
	require.NotNil(t, pkt)
	require.True(t, pkt.Internal)

	w.writeNow(pkt.Payload, pkt.Addr, pkt.Internal)
	got := recvOne(t, internalListener)
	require.Equal(t, []byte{forward.TypeClientToServer, 1, 2, 3}, got)
}
