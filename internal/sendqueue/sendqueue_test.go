package sendqueue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/forward"
	"github.com/relaymesh/relay/internal/sendqueue"
	"github.com/relaymesh/relay/internal/wire"
)

func testAddr() wire.Address {
	return wire.Address{Tag: wire.AddressIPv4, IP: []byte{10, 0, 0, 1}, Port: 1234}
}

func TestClassifyRoutesControlTrafficHigh(t *testing.T) {
	require.Equal(t, sendqueue.High, sendqueue.Classify(forward.TypeRouteRequest))
	require.Equal(t, sendqueue.High, sendqueue.Classify(forward.TypeSessionPing))
	require.Equal(t, sendqueue.Medium, sendqueue.Classify(forward.TypeClientToServer))
	require.Equal(t, sendqueue.Low, sendqueue.Classify(forward.TypeRelayPing))
	require.Equal(t, sendqueue.Low, sendqueue.Classify(forward.TypeNearPing))
}

func TestDequeueDrainsHighBeforeMediumBeforeLow(t *testing.T) {
	q := sendqueue.New()
	addr := testAddr()

	require.True(t, q.EnqueueWithPriority(sendqueue.Low, []byte("low"), addr, false))
	require.True(t, q.EnqueueWithPriority(sendqueue.Medium, []byte("medium"), addr, false))
	require.True(t, q.EnqueueWithPriority(sendqueue.High, []byte("high"), addr, false))

	first := q.Dequeue()
	require.NotNil(t, first)
	require.Equal(t, "high", string(first.Payload))

	second := q.Dequeue()
	require.NotNil(t, second)
	require.Equal(t, "medium", string(second.Payload))

	third := q.Dequeue()
	require.NotNil(t, third)
	require.Equal(t, "low", string(third.Payload))

	require.Nil(t, q.Dequeue())
}

func TestDequeuePromotesStarvingLowAheadOfMedium(t *testing.T) {
	q := sendqueue.New()
	addr := testAddr()

	require.True(t, q.EnqueueWithPriority(sendqueue.Low, []byte("low"), addr, false))
	time.Sleep(260 * time.Millisecond)
	require.True(t, q.EnqueueWithPriority(sendqueue.Medium, []byte("medium"), addr, false))

	pkt := q.Dequeue()
	require.NotNil(t, pkt)
	require.Equal(t, "low", string(pkt.Payload), "a starving low-priority packet should be serviced before medium")
}

func TestEnqueueClassifiesByPacketType(t *testing.T) {
	q := sendqueue.New()
	addr := testAddr()

	payload := []byte{forward.TypeSessionPing, 1, 2, 3}
	require.True(t, q.Enqueue(payload[0], payload, addr, false))

	pkt := q.Dequeue()
	require.NotNil(t, pkt)
	require.Equal(t, sendqueue.High, pkt.Priority)
}

func TestEnqueuePreservesInternalFlag(t *testing.T) {
	q := sendqueue.New()
	addr := testAddr()

	require.True(t, q.Enqueue(forward.TypeClientToServer, []byte("payload"), addr, true))

	pkt := q.Dequeue()
	require.NotNil(t, pkt)
	require.True(t, pkt.Internal)
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	q := sendqueue.New()
	addr := testAddr()

	var dropped bool
	for i := 0; i < 5000; i++ {
		if !q.EnqueueWithPriority(sendqueue.High, []byte("x"), addr, false) {
			dropped = true
			break
		}
	}
	require.True(t, dropped, "a bounded queue must eventually report a drop")

	_, _, low := q.Dropped()
	require.Zero(t, low)
}
