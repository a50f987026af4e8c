package broker

import (
	"context"

	"github.com/yanun0323/decimal"

	"main/internal/schema"
)

// Outcome classifies a submission or status query result.
type Outcome uint8

const (
	OutcomeUnknown Outcome = iota
	OutcomeFilled
	OutcomeFailed
	OutcomeCancelled
	// OutcomeAmbiguous means the broker gave no definitive answer
	// (timeout, no response). It is never proof of failure; the record
	// stays PENDING and recovery reconciles it later.
	OutcomeAmbiguous
)

// IsTerminal reports whether the outcome resolves the order.
func (o Outcome) IsTerminal() bool {
	switch o {
	case OutcomeFilled, OutcomeFailed, OutcomeCancelled:
		return true
	default:
		return false
	}
}

func (o Outcome) String() string {
	switch o {
	case OutcomeFilled:
		return "FILLED"
	case OutcomeFailed:
		return "FAILED"
	case OutcomeCancelled:
		return "CANCELLED"
	case OutcomeAmbiguous:
		return "AMBIGUOUS"
	default:
		return "UNKNOWN"
	}
}

// OrderRequest is a submission keyed by the caller-assigned idempotency key.
type OrderRequest struct {
	ClientOrderID string
	Symbol        string
	Side          schema.Side
	Quantity      int64
	Price         decimal.Decimal
	IsTest        bool
}

// OrderResult is the broker's answer for a submission or a status query.
type OrderResult struct {
	Outcome       Outcome
	BrokerOrderID string
	Reason        string
}

// Broker is the external trading capability. Submit and Query carry an
// explicit context deadline; a deadline expiry maps to OutcomeAmbiguous,
// never to a terminal state.
type Broker interface {
	Submit(ctx context.Context, req OrderRequest) (OrderResult, error)
	Query(ctx context.Context, clientOrderID string) (OrderResult, error)

	Quote(ctx context.Context, symbol string) (schema.Price, error)
	Account(ctx context.Context) (schema.AccountBalance, error)
	Position(ctx context.Context, symbol string) (schema.Position, error)
}
