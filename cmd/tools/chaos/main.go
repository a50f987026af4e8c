package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"main/internal/bus"
	"main/internal/chaos"
	"main/internal/ops"
)

// chaos subscribes on an upstream relay and republishes to a downstream
// one with configurable drops, duplicates, reordering and delay. Running
// the executor behind it verifies idempotence and at-most-once tolerance
// against a hostile bus.
func main() {
	if err := run(); err != nil {
		log.Printf("chaos: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config (upstream relay)")
	targetPubAddr := flag.String("target-pub-addr", "", "Downstream relay publisher endpoint")
	prefixesFlag := flag.String("prefixes", "TRADE_ORDER.", "Comma-separated topic prefixes to forward")
	seed := flag.Int64("seed", 0, "RNG seed (0=now)")
	dropRate := flag.Float64("drop-rate", 0, "Drop probability [0-1]")
	dupRate := flag.Float64("dup-rate", 0, "Duplicate probability [0-1]")
	reorderWindow := flag.Int("reorder-window", 1, "Reorder window (>=1)")
	maxDelay := flag.Duration("max-delay", 0, "Max forwarding delay")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}
	if *targetPubAddr == "" {
		*targetPubAddr = loaded.PubAddr
	}

	engine, err := chaos.NewEngine(chaos.Config{
		Seed:          *seed,
		DropRate:      *dropRate,
		DuplicateRate: *dupRate,
		ReorderWindow: *reorderWindow,
		MaxDelay:      *maxDelay,
	})
	if err != nil {
		return err
	}

	upstream := bus.NewClient(bus.ClientConfig{
		PubAddr: loaded.PubAddr,
		SubAddr: loaded.SubAddr,
	})
	defer upstream.Close()

	downstream := bus.NewClient(bus.ClientConfig{
		PubAddr: *targetPubAddr,
		SubAddr: loaded.SubAddr,
	})
	defer downstream.Close()

	var prefixes []string
	for _, part := range strings.Split(*prefixesFlag, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			prefixes = append(prefixes, trimmed)
		}
	}
	if err := upstream.Subscribe(prefixes...); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	upstream.Start(ctx)

	for ctx.Err() == nil {
		msg, ok := upstream.Receive(loaded.PollTimeout)
		if !ok {
			continue
		}
		forward(downstream, engine.Process(msg), engine)
	}
	forward(downstream, engine.Flush(), engine)
	return nil
}

func forward(downstream *bus.Client, msgs []bus.Message, engine *chaos.Engine) {
	for _, msg := range msgs {
		if delay := engine.Delay(); delay > 0 {
			time.Sleep(delay)
		}
		if err := downstream.Publish(msg.Topic, msg.Payload); err != nil {
			// Dropping on publish failure is chaos too.
			log.Printf("chaos: forward %s failed: %v", msg.Topic, err)
		}
	}
}
