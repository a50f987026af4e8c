package executor

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
)

type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*ledger.TradeRecord

	createErr  error
	resolveErr error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*ledger.TradeRecord)}
}

func (r *fakeRepo) Create(_ context.Context, rec *ledger.TradeRecord) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return false, r.createErr
	}
	if _, exists := r.records[rec.ClientOrderID]; exists {
		return false, nil
	}
	clone := *rec
	r.records[rec.ClientOrderID] = &clone
	return true, nil
}

func (r *fakeRepo) Resolve(_ context.Context, clientOrderID string, status ledger.Status, brokerOrderID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolveErr != nil {
		return r.resolveErr
	}
	rec, ok := r.records[clientOrderID]
	if !ok {
		return errors.Wrap(exception.ErrRecordNotFound, clientOrderID)
	}
	if rec.Status != ledger.StatusPending {
		return errors.Wrap(exception.ErrRecordNotPending, clientOrderID)
	}
	rec.Status = status
	if brokerOrderID != "" {
		rec.BrokerOrderID = &brokerOrderID
	}
	if lastError != "" {
		rec.LastError = &lastError
	}
	return nil
}

func (r *fakeRepo) Pending(_ context.Context) ([]ledger.TradeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ledger.TradeRecord
	for _, rec := range r.records {
		if rec.Status == ledger.StatusPending {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (r *fakeRepo) Find(_ context.Context, clientOrderID string) (*ledger.TradeRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[clientOrderID]
	if !ok {
		return nil, false, nil
	}
	clone := *rec
	return &clone, true, nil
}

func (r *fakeRepo) status(t *testing.T, clientOrderID string) ledger.Status {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[clientOrderID]
	require.True(t, ok, "record %s missing", clientOrderID)
	return rec.Status
}

type fakeBroker struct {
	mu         sync.Mutex
	submits    int
	queries    int
	submitRes  broker.OrderResult
	submitErr  error
	queryRes   broker.OrderResult
	queryErr   error
	queryAfter int // queries before queryRes becomes definitive
}

func (b *fakeBroker) Submit(_ context.Context, _ broker.OrderRequest) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	return b.submitRes, b.submitErr
}

func (b *fakeBroker) Query(_ context.Context, _ string) (broker.OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	if b.queries <= b.queryAfter {
		return broker.OrderResult{Outcome: broker.OutcomeAmbiguous}, nil
	}
	return b.queryRes, b.queryErr
}

func (b *fakeBroker) Quote(context.Context, string) (schema.Price, error) {
	return schema.Price{}, exception.ErrBrokerUnsupportedOp
}

func (b *fakeBroker) Account(context.Context) (schema.AccountBalance, error) {
	return schema.AccountBalance{}, exception.ErrBrokerUnsupportedOp
}

func (b *fakeBroker) Position(context.Context, string) (schema.Position, error) {
	return schema.Position{}, exception.ErrBrokerUnsupportedOp
}

func (b *fakeBroker) submitCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits
}

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	err    error
}

func (p *fakePublisher) Publish(topic string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...)
}

func testConfig(metrics *obs.Metrics) Config {
	return Config{
		SubmitTimeout:    time.Second,
		RecoveryAttempts: 3,
		RecoveryBackoff:  bus.Backoff{Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2.0},
		Metrics:          metrics,
	}
}

func testOrder(id string) schema.TradeOrder {
	return schema.TradeOrder{
		ClientOrderID: id,
		Symbol:        "AAPL",
		Side:          schema.SideBuy,
		Quantity:      10,
	}
}

func TestProcessFillsAndConfirms(t *testing.T) {
	repo := newFakeRepo()
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeFilled, BrokerOrderID: "B-1"}}
	pub := &fakePublisher{}
	metrics := obs.NewMetrics()

	machine, err := NewMachine(repo, brk, pub, testConfig(metrics))
	require.NoError(t, err)

	require.NoError(t, machine.Process(context.Background(), testOrder("ord-1")))
	require.Equal(t, ledger.StatusFilled, repo.status(t, "ord-1"))
	require.Equal(t, []string{schema.TopicTradeConfirmation}, pub.published())
	require.Equal(t, uint64(1), metrics.Snapshot().OrdersProcessed)
}

func TestProcessRedeliveryNeverReachesBroker(t *testing.T) {
	repo := newFakeRepo()
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeFilled}}
	pub := &fakePublisher{}
	metrics := obs.NewMetrics()

	machine, err := NewMachine(repo, brk, pub, testConfig(metrics))
	require.NoError(t, err)

	require.NoError(t, machine.Process(context.Background(), testOrder("ord-1")))
	require.NoError(t, machine.Process(context.Background(), testOrder("ord-1")))

	require.Equal(t, 1, brk.submitCount(), "redelivery must not submit twice")
	require.Equal(t, uint64(1), metrics.Snapshot().OrdersDuplicate)
}

func TestProcessDurabilityFailureBlocksSubmission(t *testing.T) {
	repo := newFakeRepo()
	repo.createErr = errors.Wrap(exception.ErrLedgerWrite, "disk gone")
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeFilled}}

	machine, err := NewMachine(repo, brk, &fakePublisher{}, testConfig(nil))
	require.NoError(t, err)

	err = machine.Process(context.Background(), testOrder("ord-1"))
	require.ErrorIs(t, err, exception.ErrLedgerWrite)
	require.Zero(t, brk.submitCount(), "broker must not see an unrecorded order")
}

func TestProcessAmbiguousLeavesPending(t *testing.T) {
	repo := newFakeRepo()
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeAmbiguous}}
	pub := &fakePublisher{}
	metrics := obs.NewMetrics()

	machine, err := NewMachine(repo, brk, pub, testConfig(metrics))
	require.NoError(t, err)

	err = machine.Process(context.Background(), testOrder("ord-1"))
	require.ErrorIs(t, err, exception.ErrBrokerAmbiguous)
	require.Equal(t, ledger.StatusPending, repo.status(t, "ord-1"))
	require.Empty(t, pub.published(), "no confirmation without a terminal state")
	require.Equal(t, uint64(1), metrics.Snapshot().OrdersAmbiguous)
}

func TestRecoverResolvesFromBrokerAnswer(t *testing.T) {
	repo := newFakeRepo()
	created, err := repo.Create(context.Background(), &ledger.TradeRecord{
		ClientOrderID: "ord-crash",
		Symbol:        "AAPL",
		Side:          string(schema.SideBuy),
		Quantity:      10,
		Status:        ledger.StatusPending,
	})
	require.NoError(t, err)
	require.True(t, created)

	brk := &fakeBroker{queryRes: broker.OrderResult{Outcome: broker.OutcomeFilled, BrokerOrderID: "B-9"}}
	pub := &fakePublisher{}
	metrics := obs.NewMetrics()

	machine, err := NewMachine(repo, brk, pub, testConfig(metrics))
	require.NoError(t, err)

	require.NoError(t, machine.Recover(context.Background()))
	require.Equal(t, ledger.StatusFilled, repo.status(t, "ord-crash"))
	require.Equal(t, []string{schema.TopicTradeConfirmation}, pub.published())
	require.Equal(t, uint64(1), metrics.Snapshot().OrdersRecovered)
}

func TestRecoverUnknownOrderFails(t *testing.T) {
	repo := newFakeRepo()
	_, err := repo.Create(context.Background(), &ledger.TradeRecord{
		ClientOrderID: "ord-lost",
		Symbol:        "AAPL",
		Side:          string(schema.SideBuy),
		Quantity:      10,
		Status:        ledger.StatusPending,
	})
	require.NoError(t, err)

	brk := &fakeBroker{queryErr: errors.Wrap(exception.ErrBrokerUnknownOrder, "ord-lost")}
	machine, err := NewMachine(repo, brk, &fakePublisher{}, testConfig(nil))
	require.NoError(t, err)

	require.NoError(t, machine.Recover(context.Background()))
	require.Equal(t, ledger.StatusFailed, repo.status(t, "ord-lost"))
}

func TestRecoverRetriesThroughAmbiguity(t *testing.T) {
	repo := newFakeRepo()
	_, err := repo.Create(context.Background(), &ledger.TradeRecord{
		ClientOrderID: "ord-flaky",
		Symbol:        "AAPL",
		Side:          string(schema.SideBuy),
		Quantity:      10,
		Status:        ledger.StatusPending,
	})
	require.NoError(t, err)

	brk := &fakeBroker{
		queryAfter: 2,
		queryRes:   broker.OrderResult{Outcome: broker.OutcomeCancelled, Reason: "session ended"},
	}
	machine, err := NewMachine(repo, brk, &fakePublisher{}, testConfig(nil))
	require.NoError(t, err)

	require.NoError(t, machine.Recover(context.Background()))
	require.Equal(t, ledger.StatusCancelled, repo.status(t, "ord-flaky"))
}

func TestRecoverExhaustedAttemptsLeavesPending(t *testing.T) {
	repo := newFakeRepo()
	_, err := repo.Create(context.Background(), &ledger.TradeRecord{
		ClientOrderID: "ord-stuck",
		Symbol:        "AAPL",
		Side:          string(schema.SideBuy),
		Quantity:      10,
		Status:        ledger.StatusPending,
	})
	require.NoError(t, err)

	brk := &fakeBroker{queryAfter: 100}
	machine, err := NewMachine(repo, brk, &fakePublisher{}, testConfig(nil))
	require.NoError(t, err)

	// Never guesses: the record stays PENDING for manual reconciliation.
	require.NoError(t, machine.Recover(context.Background()))
	require.Equal(t, ledger.StatusPending, repo.status(t, "ord-stuck"))
}

func TestResolveIsMonotonic(t *testing.T) {
	repo := newFakeRepo()
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeFilled}}
	machine, err := NewMachine(repo, brk, &fakePublisher{}, testConfig(nil))
	require.NoError(t, err)

	require.NoError(t, machine.Process(context.Background(), testOrder("ord-1")))

	// A late second resolution must not flip the terminal state.
	err = machine.resolve(context.Background(), "ord-1", broker.OrderResult{Outcome: broker.OutcomeFailed})
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFilled, repo.status(t, "ord-1"))
}

func TestConfirmationPublishFailureDoesNotFailOrder(t *testing.T) {
	repo := newFakeRepo()
	brk := &fakeBroker{submitRes: broker.OrderResult{Outcome: broker.OutcomeFilled}}
	pub := &fakePublisher{err: errors.Wrap(exception.ErrBusUnreachable, "relay down")}

	machine, err := NewMachine(repo, brk, pub, testConfig(nil))
	require.NoError(t, err)

	require.NoError(t, machine.Process(context.Background(), testOrder("ord-1")))
	require.Equal(t, ledger.StatusFilled, repo.status(t, "ord-1"))
}

func TestNewMachineRejectsNil(t *testing.T) {
	_, err := NewMachine(nil, &fakeBroker{}, &fakePublisher{}, Config{})
	if !stderrors.Is(err, exception.ErrNilInstance) {
		t.Fatalf("expected ErrNilInstance, got %v", err)
	}
}
