package pingmesh

import (
	"time"
)

// SendFunc emits a type-75 relay ping carrying sequence to peer.
type SendFunc func(peer *Peer, sequence uint64)

// Scheduler drives the 100ms ping tick described in spec.md §4.G: every
// tick, every peer whose schedule has come due gets a fresh ping sent and
// recorded into its history.
type Scheduler struct {
	manager *Manager
	send    SendFunc
	nowFn   func() float64
	quit    chan struct{}
}

// NewScheduler builds a scheduler over manager, calling send for every
// due peer and nowFn to obtain the current monotonic time in seconds.
func NewScheduler(manager *Manager, send SendFunc, nowFn func() float64) *Scheduler {
	return &Scheduler{manager: manager, send: send, nowFn: nowFn, quit: make(chan struct{})}
}

// Run blocks, ticking every PingIntervalSeconds until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(time.Duration(PingIntervalSeconds * float64(time.Second)))
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Stop ends the scheduler's Run loop.
func (s *Scheduler) Stop() {
	close(s.quit)
}

func (s *Scheduler) tick() {
	now := s.nowFn()
	for _, peer := range s.manager.Due(now) {
		seq := peer.History.PingSent(now)
		s.send(peer, seq)
	}
}
