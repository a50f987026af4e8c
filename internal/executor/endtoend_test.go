package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/schema"
)

// Full path: order published on the bus, executor records PENDING, paper
// broker fills, ledger goes FILLED and a confirmation comes back out on
// the bus.
func TestEndToEndOrderFlow(t *testing.T) {
	relay, err := bus.NewRelay(bus.RelayConfig{
		PubAddr: "127.0.0.1:0",
		SubAddr: "127.0.0.1:0",
		Metrics: obs.NewMetrics(),
	})
	require.NoError(t, err)
	require.NoError(t, relay.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = relay.Run(ctx) }()
	defer relay.Close()

	newClient := func() *bus.Client {
		c := bus.NewClient(bus.ClientConfig{
			PubAddr: relay.PubAddr(),
			SubAddr: relay.SubAddr(),
			Backoff: bus.Backoff{Min: 10 * time.Millisecond, Max: 100 * time.Millisecond, Factor: 2.0},
		})
		t.Cleanup(c.Close)
		return c
	}

	// Executor side: bus subscriber plus the state machine.
	execBus := newClient()
	require.NoError(t, execBus.Subscribe(schema.TopicTradeOrderCreate))
	execBus.Start(ctx)

	repo := newFakeRepo()
	machine, err := NewMachine(repo, broker.NewPaper(broker.PaperConfig{}), execBus, testConfig(nil))
	require.NoError(t, err)

	// Downstream consumer of confirmations.
	confirmBus := newClient()
	require.NoError(t, confirmBus.Subscribe(schema.TopicTradeConfirmation))
	confirmBus.Start(ctx)

	// Producer side.
	producer := newClient()
	payload, err := schema.TradeOrder{
		ClientOrderID: "abc123",
		Symbol:        "ZZZ",
		Side:          schema.SideBuy,
		Quantity:      10,
	}.Encode()
	require.NoError(t, err)

	// Publish until the subscription is live, then process what arrives.
	var order schema.TradeOrder
	require.Eventually(t, func() bool {
		require.NoError(t, producer.Publish(schema.TopicTradeOrderCreate, payload))
		msg, ok := execBus.Receive(100 * time.Millisecond)
		if !ok {
			return false
		}
		order, err = schema.DecodeTradeOrder(msg.Payload)
		require.NoError(t, err)
		return true
	}, 5*time.Second, 10*time.Millisecond, "order never arrived at the executor")

	require.NoError(t, machine.Process(ctx, order))

	rec, found, err := repo.Find(ctx, "abc123")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ledger.StatusFilled, rec.Status)
	require.NotNil(t, rec.BrokerOrderID)

	// The confirmation must reach a bus subscriber.
	deadline := time.Now().Add(5 * time.Second)
	for {
		msg, ok := confirmBus.Receive(time.Until(deadline))
		require.True(t, ok, "confirmation never arrived")
		confirmation, err := schema.DecodeTradeConfirmation(msg.Payload)
		require.NoError(t, err)
		if confirmation.ClientOrderID != "abc123" {
			continue
		}
		require.Equal(t, string(ledger.StatusFilled), confirmation.Status)
		require.NotEmpty(t, confirmation.BrokerOrderID)
		return
	}
}

// Crash between the PENDING write and the broker answer: recovery must
// reconcile against the broker's authoritative record without submitting
// a second time.
func TestRecoveryAfterAmbiguousSubmit(t *testing.T) {
	repo := newFakeRepo()
	paper := broker.NewPaper(broker.PaperConfig{Latency: 200 * time.Millisecond})

	cfg := testConfig(nil)
	cfg.SubmitTimeout = 10 * time.Millisecond
	machine, err := NewMachine(repo, paper, &fakePublisher{}, cfg)
	require.NoError(t, err)

	// The submit deadline expires while the paper broker already booked
	// the fill, which is exactly the executed-but-unanswered crash window.
	err = machine.Process(context.Background(), testOrder("ord-amb"))
	require.Error(t, err)
	require.Equal(t, ledger.StatusPending, repo.status(t, "ord-amb"))

	// "Restart": a fresh machine over the same ledger and broker.
	cfg.SubmitTimeout = time.Second
	restarted, err := NewMachine(repo, paper, &fakePublisher{}, cfg)
	require.NoError(t, err)
	require.NoError(t, restarted.Recover(context.Background()))
	require.Equal(t, ledger.StatusFilled, repo.status(t, "ord-amb"))

	// The broker saw the key exactly once.
	result, err := paper.Query(context.Background(), "ord-amb")
	require.NoError(t, err)
	require.Equal(t, broker.OutcomeFilled, result.Outcome)
}
