package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/heartbeat"
	"main/internal/obs"
	"main/internal/ops"
	"main/internal/pillar"
	"main/internal/schema"
)

const serviceName = "healthcheck"

func main() {
	if err := run(); err != nil {
		log.Printf("healthcheck: %v", err)
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

	stopProfiler, err := obs.StartProfiler("avenor/healthcheck", *profileAddr)
	if err != nil {
		return err
	}
	defer stopProfiler()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics := obs.NewMetrics()
	monitor := heartbeat.NewMonitor(loaded.StaleAfter, metrics)

	client := bus.NewClient(bus.ClientConfig{
		PubAddr: loaded.PubAddr,
		SubAddr: loaded.SubAddr,
	})
	defer client.Close()

	if err := client.Subscribe(schema.TopicHeartbeatPrefix); err != nil {
		return err
	}
	client.Start(ctx)

	return pillar.Run(ctx, pillar.Config{
		Service:           serviceName,
		HeartbeatInterval: loaded.HeartbeatInterval,
		PollTimeout:       loaded.PollTimeout,
		TickInterval:      loaded.SweepInterval,
		Tick: func(_ context.Context, now time.Time) error {
			for _, event := range monitor.Sweep(now) {
				logs.Errorf("CRITICAL: service %s heartbeat stale, silent for %s", event.Service, event.Silent)
				publishAlert(client, event, "CRITICAL", now)
			}
			return nil
		},
	}, client, func(_ context.Context, msg bus.Message) error {
		hb, err := schema.DecodeHeartbeat(msg.Payload)
		if err != nil {
			return err
		}
		now := time.Now()
		if event := monitor.Observe(hb.Service, now); event != nil {
			logs.Infof("healthcheck: service %s recovered after %s of silence", event.Service, event.Silent)
			publishAlert(client, *event, "INFO", now)
		}
		return nil
	})
}

// publishAlert is best-effort; the CRITICAL log line above is the alert
// of record, the bus copy only feeds dashboards.
func publishAlert(client *bus.Client, event heartbeat.Event, severity string, now time.Time) {
	message := "heartbeat stale for " + event.Silent.String()
	if event.Kind == heartbeat.EventRecovery {
		message = "heartbeats resumed after " + event.Silent.String()
	}
	payload, err := schema.Alert{
		Service:  event.Service,
		Severity: severity,
		Message:  message,
		TsUTC:    now.UTC().Unix(),
	}.Encode()
	if err != nil {
		logs.Errorf("healthcheck: encode alert for %s: %v", event.Service, err)
		return
	}
	if err := client.Publish(schema.AlertTopic(event.Service), payload); err != nil {
		logs.Warnf("healthcheck: alert publish for %s failed: %v", event.Service, err)
	}
}
