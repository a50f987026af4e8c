package pillar

import (
	"context"
	stderrors "errors"
	"os"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/bus"
	"main/internal/schema"
	"main/pkg/exception"
)

// Bus is the client surface the loop needs.
type Bus interface {
	Publish(topic string, payload []byte) error
	Receive(timeout time.Duration) (bus.Message, bool)
}

// Handler processes one subscribed message.
type Handler func(ctx context.Context, msg bus.Message) error

// Config drives one service's dominant loop.
type Config struct {
	Service string

	// HeartbeatInterval paces the self-heartbeat published on
	// HEARTBEAT.<service>.
	HeartbeatInterval time.Duration

	// PollTimeout bounds each bus receive so periodic work is never
	// starved by an idle bus.
	PollTimeout time.Duration

	// ReportAlive is the injected process-liveness capability (watchdog
	// ping), invoked once per loop iteration. Optional.
	ReportAlive func()

	// Tick is optional periodic work (monitor sweeps, fact publishing)
	// run every TickInterval.
	Tick         func(ctx context.Context, now time.Time) error
	TickInterval time.Duration

	Now func() time.Time
}

// Run drives the loop until ctx is done or an unclassified error escapes
// the handler. Expected failure classes (validation, connectivity,
// ambiguous broker outcomes, per-order durability failures) are logged
// and the loop continues; anything else terminates the service rather
// than continuing in a possibly corrupted state.
func Run(ctx context.Context, cfg Config, b Bus, handler Handler) error {
	if cfg.Service == "" || b == nil {
		return exception.ErrInvalidArgument
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 15 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.Tick != nil && cfg.TickInterval <= 0 {
		cfg.TickInterval = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var lastHeartbeat, lastTick time.Time
	for {
		if ctx.Err() != nil {
			return nil
		}
		if cfg.ReportAlive != nil {
			cfg.ReportAlive()
		}

		// Heartbeat goes out before handler work, so liveness still
		// reaches the monitor while a long broker call is outstanding.
		now := cfg.Now()
		if now.Sub(lastHeartbeat) >= cfg.HeartbeatInterval {
			publishHeartbeat(b, cfg.Service, now)
			lastHeartbeat = now
		}

		if cfg.Tick != nil && now.Sub(lastTick) >= cfg.TickInterval {
			if err := cfg.Tick(ctx, now); err != nil {
				if !expected(cfg.Service, err) {
					return err
				}
			}
			lastTick = now
		}

		msg, ok := b.Receive(cfg.PollTimeout)
		if !ok {
			continue
		}
		if handler == nil {
			continue
		}
		if err := handler(ctx, msg); err != nil {
			if !expected(cfg.Service, err) {
				return err
			}
		}
	}
}

func publishHeartbeat(b Bus, service string, now time.Time) {
	payload, err := schema.Heartbeat{
		Service: service,
		PID:     os.Getpid(),
		TsUTC:   now.UTC().Unix(),
	}.Encode()
	if err != nil {
		logs.Errorf("%s: encode heartbeat: %v", service, err)
		return
	}
	if err := b.Publish(schema.HeartbeatTopic(service), payload); err != nil {
		logs.Warnf("%s: heartbeat publish failed: %v", service, err)
	}
}

// expected classifies the failure modes a service loop survives.
func expected(service string, err error) bool {
	switch {
	case stderrors.Is(err, exception.ErrPayloadDecode),
		stderrors.Is(err, exception.ErrPayloadSchema),
		stderrors.Is(err, exception.ErrPayloadVersion),
		stderrors.Is(err, exception.ErrTopicUnknown):
		logs.Warnf("%s: message discarded: %v", service, err)
		return true
	case stderrors.Is(err, exception.ErrBusUnreachable),
		stderrors.Is(err, exception.ErrBrokerUnreachable),
		stderrors.Is(err, exception.ErrBrokerAmbiguous):
		logs.Warnf("%s: deferred: %v", service, err)
		return true
	case stderrors.Is(err, exception.ErrLedgerWrite):
		logs.Errorf("%s: order attempt aborted: %v", service, err)
		return true
	default:
		return false
	}
}
