package relaycore

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/relaymesh/relay/internal/pingmesh"
)

// ShutdownWindow is how long a SIGHUP-triggered drain waits before the
// process exits, per spec.md §7's "clean shutdown" row: long enough for
// in-flight sessions to age out of the backend's routing tables, short
// enough that an operator rollout doesn't stall.
const ShutdownWindow = 30 * time.Second

// ShuttingDown reports whether a SIGHUP drain is in progress. The
// heartbeat loop is not gated on this — relay_update keeps firing with
// Shutdown set so the backend can steer new sessions elsewhere.
func (c *Context) ShuttingDown() bool {
	return atomic.LoadInt32(&c.shuttingDown) == 1
}

// WatchSignals blocks until SIGINT, SIGTERM, or SIGHUP arrives, then
// tears the relay down. SIGINT/SIGTERM stop immediately; SIGHUP marks
// the relay draining, sends an immediate relay_update with Shutdown=true
// (the heartbeat loop keeps sending it during the window), and waits out ShutdownWindow before stopping workers and the ping
// scheduler.
func (c *Context) WatchSignals(ctx context.Context, workers []*Worker, scheduler *pingmesh.Scheduler) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		return
	case sig := <-sigCh:
		if sig == syscall.SIGHUP {
			c.Log.Info().Msg("SIGHUP received, draining before shutdown")
			c.drain(ctx)
		} else {
			c.Log.Info().Str("signal", sig.String()).Msg("shutting down immediately")
		}
	}

	c.stopAll(workers, scheduler)
}

func (c *Context) drain(ctx context.Context) {
	atomic.StoreInt32(&c.shuttingDown, 1)

	req := c.buildUpdateRequest()
	if _, err := c.Router.Update(ctx, req); err != nil {
		c.Log.Warn().Err(err).Msg("final relay_update before shutdown failed")
	}

	timer := time.NewTimer(ShutdownWindow)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Context) stopAll(workers []*Worker, scheduler *pingmesh.Scheduler) {
	c.MarkClosed()
	if scheduler != nil {
		scheduler.Stop()
	}
	for _, w := range workers {
		_ = w.Close()
	}
}
