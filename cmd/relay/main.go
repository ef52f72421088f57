// Command relay runs one UDP relay node: it reads its configuration from
// the environment, registers with the backend, and forwards session
// traffic until asked to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/relaycore"
	"github.com/relaymesh/relay/internal/rlog"
)

var version = "dev"

// bootstrapTimeout bounds the one-shot relay_init call; retry-go's own
// backoff schedule inside Client.Init runs within this window.
const bootstrapTimeout = 60 * time.Second

func main() {
	var (
		showVersion = pflag.BoolP("version", "v", false, "print the relay build version and exit")
		logLevel    = pflag.String("log-level", "", "override RELAY_LOG_LEVEL for this run")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "relay: "+err.Error())
		os.Exit(1)
	}

	levelOverride := cfg.LogLevel
	if *logLevel != "" {
		levelOverride = *logLevel
	}
	log := rlog.New(levelOverride, cfg.RelayName)

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("relay exiting")
		os.Exit(1)
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	keys, err := cfg.DecodeKeys()
	if err != nil {
		return err
	}

	ctx := relaycore.New(cfg, keys, log)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), bootstrapTimeout)
	defer bootCancel()
	if err := ctx.Bootstrap(bootCtx); err != nil {
		return err
	}

	workers, err := relaycore.StartWorkers(ctx)
	if err != nil {
		return err
	}

	scheduler := relaycore.StartPingScheduler(ctx, workers)

	heartbeatCtx, heartbeatCancel := context.WithCancel(context.Background())
	go ctx.RunHeartbeat(heartbeatCtx)

	ctx.Log.Info().
		Str("public_address", cfg.PublicAddress).
		Int("workers", len(workers)).
		Msg("relay started")

	ctx.WatchSignals(heartbeatCtx, workers, scheduler)
	heartbeatCancel()

	ctx.Log.Info().Msg("relay stopped")
	return nil
}
