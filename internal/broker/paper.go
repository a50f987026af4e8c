package broker

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// PaperConfig controls the simulated broker.
type PaperConfig struct {
	// Latency simulates the network round trip of a submission.
	Latency time.Duration `json:"latency"`
	// MaxOrderQty rejects larger orders, standing in for broker-side
	// risk checks. Zero disables the limit.
	MaxOrderQty int64 `json:"maxOrderQty"`
	// Prices seeds the quote per symbol.
	Prices map[string]decimal.Decimal `json:"prices"`
	// Cash seeds the account balance.
	Cash     decimal.Decimal `json:"cash"`
	Currency string          `json:"currency"`
}

type paperOrder struct {
	result   OrderResult
	request  OrderRequest
	fillTime time.Time
}

// Paper is a deterministic in-process broker for paper trading and tests.
//
// An order is booked before the simulated latency elapses, so a caller
// whose deadline expires mid-submission observes OutcomeAmbiguous while
// the broker's authoritative record already holds the terminal state.
// That is the reconciliation case the recovery pass exists for.
type Paper struct {
	cfg PaperConfig

	mu        sync.Mutex
	seq       uint64
	orders    map[string]paperOrder
	positions map[string]int64
}

// NewPaper builds the simulated broker.
func NewPaper(cfg PaperConfig) *Paper {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Paper{
		cfg:       cfg,
		orders:    make(map[string]paperOrder),
		positions: make(map[string]int64),
	}
}

func (p *Paper) Submit(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if req.ClientOrderID == "" {
		return OrderResult{}, exception.ErrInvalidArgument
	}

	result := p.book(req)

	if p.cfg.Latency > 0 {
		timer := time.NewTimer(p.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			// Booked but unanswered: the caller must not assume failure.
			return OrderResult{Outcome: OutcomeAmbiguous}, nil
		case <-timer.C:
		}
	}
	return result, nil
}

func (p *Paper) Query(ctx context.Context, clientOrderID string) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{Outcome: OutcomeAmbiguous}, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[clientOrderID]
	if !ok {
		return OrderResult{}, errors.Wrapf(exception.ErrBrokerUnknownOrder, "client order id %s", clientOrderID)
	}
	return order.result, nil
}

func (p *Paper) Quote(ctx context.Context, symbol string) (schema.Price, error) {
	price, ok := p.cfg.Prices[symbol]
	if !ok {
		return schema.Price{}, errors.Wrapf(exception.ErrInvalidArgument, "no quote for symbol %s", symbol)
	}
	return schema.Price{
		Symbol: symbol,
		Price:  price,
		TsUTC:  time.Now().UTC().Unix(),
	}, nil
}

func (p *Paper) Account(ctx context.Context) (schema.AccountBalance, error) {
	return schema.AccountBalance{
		Currency: p.cfg.Currency,
		Cash:     p.cfg.Cash,
		Equity:   p.cfg.Cash,
		TsUTC:    time.Now().UTC().Unix(),
	}, nil
}

func (p *Paper) Position(ctx context.Context, symbol string) (schema.Position, error) {
	p.mu.Lock()
	qty := p.positions[symbol]
	p.mu.Unlock()

	pos := schema.Position{
		Symbol:   symbol,
		Quantity: qty,
		TsUTC:    time.Now().UTC().Unix(),
	}
	if price, ok := p.cfg.Prices[symbol]; ok {
		pos.AvgPrice = price
	}
	return pos, nil
}

// book records the order exactly once per client order id.
func (p *Paper) book(req OrderRequest) OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.orders[req.ClientOrderID]; ok {
		return existing.result
	}

	var result OrderResult
	switch {
	case req.Quantity <= 0:
		result = OrderResult{Outcome: OutcomeFailed, Reason: "quantity must be positive"}
	case !req.Side.IsAvailable():
		result = OrderResult{Outcome: OutcomeFailed, Reason: "unknown side"}
	case p.cfg.MaxOrderQty > 0 && req.Quantity > p.cfg.MaxOrderQty:
		result = OrderResult{Outcome: OutcomeFailed, Reason: "quantity above broker limit"}
	default:
		p.seq++
		result = OrderResult{
			Outcome:       OutcomeFilled,
			BrokerOrderID: "P-" + strconv.FormatUint(p.seq, 10),
		}
		delta := req.Quantity
		if req.Side == schema.SideSell {
			delta = -delta
		}
		p.positions[req.Symbol] += delta
	}

	p.orders[req.ClientOrderID] = paperOrder{
		result:   result,
		request:  req,
		fillTime: time.Now().UTC(),
	}
	return result
}

var _ Broker = (*Paper)(nil)
