package executor

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

// Publisher is the bus capability the machine needs to emit confirmations.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Config tunes the trade ledger state machine.
type Config struct {
	// SubmitTimeout bounds one broker round trip. Expiry defers the
	// record to recovery instead of forcing a terminal write.
	SubmitTimeout time.Duration

	// RecoveryAttempts bounds per-record broker queries during the
	// startup recovery pass.
	RecoveryAttempts int
	RecoveryBackoff  bus.Backoff

	Metrics *obs.Metrics
	Now     func() time.Time
}

// Machine drives a trade order through PENDING to a terminal state with
// the durable-intent guarantee: the PENDING write is confirmed committed
// before the broker sees the order, and a terminal record is never
// touched again.
type Machine struct {
	repo ledger.Repository
	brk  broker.Broker
	pub  Publisher
	cfg  Config
}

// NewMachine wires the state machine.
func NewMachine(repo ledger.Repository, brk broker.Broker, pub Publisher, cfg Config) (*Machine, error) {
	if repo == nil || brk == nil || pub == nil {
		return nil, exception.ErrNilInstance
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 10 * time.Second
	}
	if cfg.RecoveryAttempts <= 0 {
		cfg.RecoveryAttempts = 5
	}
	if cfg.RecoveryBackoff == (bus.Backoff{}) {
		cfg.RecoveryBackoff = bus.Backoff{
			Min:    500 * time.Millisecond,
			Max:    10 * time.Second,
			Factor: 2.0,
		}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Machine{repo: repo, brk: brk, pub: pub, cfg: cfg}, nil
}

// Process handles one trade-order message. Redeliveries of an already
// recorded client order id are discarded without touching the broker.
func (m *Machine) Process(ctx context.Context, order schema.TradeOrder) error {
	rec := &ledger.TradeRecord{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Quantity:      order.Quantity,
		Price:         order.Price.String(),
		Status:        ledger.StatusPending,
		IsTest:        order.IsTest,
	}

	created, err := m.repo.Create(ctx, rec)
	if err != nil {
		// DurabilityError: without a committed PENDING row the broker
		// must not see this order.
		return err
	}
	if !created {
		m.cfg.Metrics.IncOrderDuplicate()
		logs.Warnf("executor: duplicate trade order ignored, client_order_id=%s", order.ClientOrderID)
		return nil
	}

	submitCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
	defer cancel()
	result, err := m.brk.Submit(submitCtx, broker.OrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Quantity:      order.Quantity,
		Price:         order.Price,
		IsTest:        order.IsTest,
	})
	if err != nil {
		m.cfg.Metrics.IncOrderAmbiguous()
		return errors.Wrapf(exception.ErrBrokerAmbiguous, "submit %s: %v", order.ClientOrderID, err)
	}
	if !result.Outcome.IsTerminal() {
		// No definitive answer. The record stays PENDING on purpose;
		// the next recovery pass reconciles it against the broker.
		m.cfg.Metrics.IncOrderAmbiguous()
		return errors.Wrapf(exception.ErrBrokerAmbiguous, "submit %s: outcome %s", order.ClientOrderID, result.Outcome)
	}

	if err := m.resolve(ctx, order.ClientOrderID, result); err != nil {
		return err
	}
	m.cfg.Metrics.IncOrderProcessed()
	return nil
}

// Recover reconciles every PENDING record against the broker. It runs
// synchronously before normal message processing on every startup and
// never blocks forever: after bounded retries an unresolved record is
// reported as CRITICAL and startup proceeds.
func (m *Machine) Recover(ctx context.Context) error {
	pending, err := m.repo.Pending(ctx)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	logs.Warnf("executor: recovery found %d pending trades, reconciling against broker", len(pending))
	for _, rec := range pending {
		m.recoverRecord(ctx, rec)
	}
	return nil
}

func (m *Machine) recoverRecord(ctx context.Context, rec ledger.TradeRecord) {
	for attempt := 1; attempt <= m.cfg.RecoveryAttempts; attempt++ {
		queryCtx, cancel := context.WithTimeout(ctx, m.cfg.SubmitTimeout)
		result, err := m.brk.Query(queryCtx, rec.ClientOrderID)
		cancel()

		switch {
		case err == nil && result.Outcome.IsTerminal():
			if resolveErr := m.resolve(ctx, rec.ClientOrderID, result); resolveErr != nil {
				logs.Errorf("executor: recovery resolve failed, client_order_id=%s: %v", rec.ClientOrderID, resolveErr)
				return
			}
			m.cfg.Metrics.IncOrderRecovered()
			logs.Infof("executor: recovered trade %s as %s", rec.ClientOrderID, result.Outcome)
			return

		case stderrors.Is(err, exception.ErrBrokerUnknownOrder):
			// The broker never saw this key: the crash happened after the
			// PENDING write but before the submission went out. Failing it
			// cannot duplicate anything.
			result = broker.OrderResult{Outcome: broker.OutcomeFailed, Reason: "order never reached the broker"}
			if resolveErr := m.resolve(ctx, rec.ClientOrderID, result); resolveErr != nil {
				logs.Errorf("executor: recovery resolve failed, client_order_id=%s: %v", rec.ClientOrderID, resolveErr)
				return
			}
			m.cfg.Metrics.IncOrderRecovered()
			logs.Warnf("executor: recovered trade %s as FAILED, it never reached the broker", rec.ClientOrderID)
			return

		default:
			logs.Warnf("executor: recovery query attempt %d/%d for %s inconclusive: %v",
				attempt, m.cfg.RecoveryAttempts, rec.ClientOrderID, err)
		}

		if attempt < m.cfg.RecoveryAttempts {
			wait := m.cfg.RecoveryBackoff.Next(attempt)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}

	logs.Errorf("CRITICAL: executor recovery could not resolve trade %s after %d attempts; manual reconciliation required",
		rec.ClientOrderID, m.cfg.RecoveryAttempts)
}

// resolve writes the terminal state and emits the confirmation. A record
// already resolved by an earlier pass is left untouched.
func (m *Machine) resolve(ctx context.Context, clientOrderID string, result broker.OrderResult) error {
	status := statusFor(result.Outcome)
	err := m.repo.Resolve(ctx, clientOrderID, status, result.BrokerOrderID, result.Reason)
	if err != nil {
		if stderrors.Is(err, exception.ErrRecordNotPending) {
			logs.Warnf("executor: trade %s already terminal, leaving untouched", clientOrderID)
			return nil
		}
		return err
	}

	m.publishConfirmation(clientOrderID, status, result)
	return nil
}

func (m *Machine) publishConfirmation(clientOrderID string, status ledger.Status, result broker.OrderResult) {
	payload, err := schema.TradeConfirmation{
		ClientOrderID: clientOrderID,
		Status:        string(status),
		BrokerOrderID: result.BrokerOrderID,
		Reason:        result.Reason,
		TsUTC:         m.cfg.Now().UTC().Unix(),
	}.Encode()
	if err != nil {
		logs.Errorf("executor: encode confirmation for %s: %v", clientOrderID, err)
		return
	}
	// The ledger is already correct; a lost confirmation is tolerable
	// because downstream consumers reconcile from periodic account and
	// position facts.
	if err := m.pub.Publish(schema.TopicTradeConfirmation, payload); err != nil {
		logs.Warnf("executor: confirmation publish for %s failed: %v", clientOrderID, err)
	}
}

func statusFor(outcome broker.Outcome) ledger.Status {
	switch outcome {
	case broker.OutcomeFilled:
		return ledger.StatusFilled
	case broker.OutcomeCancelled:
		return ledger.StatusCancelled
	default:
		return ledger.StatusFailed
	}
}
