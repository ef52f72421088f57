package counters_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relaymesh/relay/internal/counters"
)

func TestIncAndGet(t *testing.T) {
	a := counters.New()
	a.Inc(counters.BasicFilterDropped)
	a.Inc(counters.BasicFilterDropped)
	require.Equal(t, uint64(2), a.Get(counters.BasicFilterDropped))
}

func TestAddAccumulates(t *testing.T) {
	a := counters.New()
	a.Add(counters.BytesReceived, 1300)
	a.Add(counters.BytesReceived, 64)
	require.Equal(t, uint64(1364), a.Get(counters.BytesReceived))
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	a := counters.New()
	a.Inc(counters.PacketsReceived)
	snap := a.Snapshot()
	a.Inc(counters.PacketsReceived)

	require.Equal(t, uint64(1), snap[counters.PacketsReceived])
	require.Equal(t, uint64(2), a.Get(counters.PacketsReceived))
	require.Len(t, snap, int(counters.Count))
}

func TestConcurrentIncrementsAreSafe(t *testing.T) {
	a := counters.New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Inc(counters.ClientToServerPacketTooBig)
		}()
	}
	wg.Wait()
	require.Equal(t, uint64(100), a.Get(counters.ClientToServerPacketTooBig))
}
