package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/executor"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pillar"
	"main/internal/schema"
	"main/pkg/conn"
)

const serviceName = "executor"

func main() {
	if err := run(); err != nil {
		log.Printf("executor: %v", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to JSON config")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		return err
	}

	stopProfiler, err := obs.StartProfiler("avenor/executor", *profileAddr)
	if err != nil {
		return err
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pg, err := conn.New(loaded.Database)
	if err != nil {
		return err
	}
	defer pg.Close()

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err = pg.Ping(pingCtx)
	cancel()
	if err != nil {
		return errors.Wrap(err, "ledger database unreachable")
	}
	if err := ledger.Migrate(pg.DB()); err != nil {
		return err
	}

	metrics := obs.NewMetrics()
	client := bus.NewClient(bus.ClientConfig{
		PubAddr: loaded.PubAddr,
		SubAddr: loaded.SubAddr,
	})
	defer client.Close()

	machine, err := executor.NewMachine(
		ledger.NewPostgresRepository(pg.DB()),
		broker.NewPaper(loaded.Paper),
		client,
		executor.Config{
			SubmitTimeout:    loaded.SubmitTimeout,
			RecoveryAttempts: loaded.RecoveryAttempts,
			Metrics:          metrics,
		},
	)
	if err != nil {
		return err
	}

	// Recovery runs to completion before any new order is accepted;
	// otherwise a pending trade from the previous run could race a
	// redelivery of itself.
	if err := machine.Recover(ctx); err != nil {
		return err
	}

	if err := client.Subscribe(schema.TopicTradeOrderCreate); err != nil {
		return err
	}
	client.Start(ctx)

	runErr := pillar.Run(ctx, pillar.Config{
		Service:           serviceName,
		HeartbeatInterval: loaded.HeartbeatInterval,
		PollTimeout:       loaded.PollTimeout,
	}, client, func(ctx context.Context, msg bus.Message) error {
		order, err := schema.DecodeTradeOrder(msg.Payload)
		if err != nil {
			return err
		}
		return machine.Process(ctx, order)
	})

	snap := metrics.Snapshot()
	log.Printf("executor: processed=%d duplicate=%d ambiguous=%d recovered=%d",
		snap.OrdersProcessed, snap.OrdersDuplicate, snap.OrdersAmbiguous, snap.OrdersRecovered)
	return runErr
}
