package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"main/internal/bus"
	"main/internal/obs"
	"main/internal/ops"
)

func main() {
	if err := run(); err != nil {
		log.Printf("relay: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config")
	pubAddr := flag.String("pub-addr", "", "Publisher bind address (overrides config)")
	subAddr := flag.String("sub-addr", "", "Subscriber bind address (overrides config)")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if *pubAddr != "" {
		loaded.PubAddr = *pubAddr
	}
	if *subAddr != "" {
		loaded.SubAddr = *subAddr
	}

	stopProfiler, err := obs.StartProfiler("avenor/relay", *profileAddr)
	if err != nil {
		return err
	}
	defer stopProfiler()

	metrics := obs.NewMetrics()
	relay, err := bus.NewRelay(bus.RelayConfig{
		PubAddr: loaded.PubAddr,
		SubAddr: loaded.SubAddr,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	if err := relay.Listen(); err != nil {
		return err
	}
	log.Printf("relay: pub=%s sub=%s", relay.PubAddr(), relay.SubAddr())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A listener failure must crash the process; supervision restarts it
	// and peers reconnect on their own.
	runErr := relay.Run(ctx)

	snap := metrics.Snapshot()
	log.Printf("relay: forwarded=%d no_match=%d slow_drops=%d",
		snap.RelayForwarded, snap.RelayNoMatch, snap.RelaySlowDrops)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
