package schema

import (
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// PayloadVersion is the current payload schema version. Every payload
// carries it in the "v" field and decoding rejects any other value.
const PayloadVersion = 1

// Side is the direction of a trade order.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// IsAvailable reports whether the side is a known value.
func (s Side) IsAvailable() bool {
	return s == SideBuy || s == SideSell
}

// Price is a market price fact published by the world-state producer.
type Price struct {
	V      int             `json:"v"`
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	TsUTC  int64           `json:"timestamp_utc"`
}

// AccountBalance is the periodic account fact downstream consumers
// reconcile against when a confirmation is lost.
type AccountBalance struct {
	V        int             `json:"v"`
	Currency string          `json:"currency"`
	Cash     decimal.Decimal `json:"cash"`
	Equity   decimal.Decimal `json:"equity"`
	TsUTC    int64           `json:"timestamp_utc"`
}

// Position is the periodic per-symbol position fact.
type Position struct {
	V        int             `json:"v"`
	Symbol   string          `json:"symbol"`
	Quantity int64           `json:"quantity"`
	AvgPrice decimal.Decimal `json:"avg_price"`
	TsUTC    int64           `json:"timestamp_utc"`
}

// TradeOrder is a trade intent emitted by the decision producer.
// ClientOrderID is the caller-assigned idempotency key, assigned exactly
// once per decision (a UUID), never re-derived on retry.
type TradeOrder struct {
	V             int             `json:"v"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	IsTest        bool            `json:"is_test"`
	TsUTC         int64           `json:"timestamp_utc"`
}

// TradeConfirmation reports the terminal resolution of a trade order.
type TradeConfirmation struct {
	V             int    `json:"v"`
	ClientOrderID string `json:"client_order_id"`
	Status        string `json:"status"`
	BrokerOrderID string `json:"broker_order_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	TsUTC         int64  `json:"timestamp_utc"`
}

// Heartbeat is the periodic liveness message every pillar publishes.
type Heartbeat struct {
	V       int    `json:"v"`
	Service string `json:"service"`
	PID     int    `json:"pid"`
	TsUTC   int64  `json:"timestamp_utc"`
}

// Alert is a monitor notice, CRITICAL staleness or recovery.
type Alert struct {
	V        int    `json:"v"`
	Service  string `json:"service"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	TsUTC    int64  `json:"timestamp_utc"`
}

func (p Price) validate() error {
	if p.Symbol == "" {
		return errors.Wrap(exception.ErrPayloadSchema, "price symbol")
	}
	return nil
}

func (p AccountBalance) validate() error {
	if p.Currency == "" {
		return errors.Wrap(exception.ErrPayloadSchema, "account currency")
	}
	return nil
}

func (p Position) validate() error {
	if p.Symbol == "" {
		return errors.Wrap(exception.ErrPayloadSchema, "position symbol")
	}
	return nil
}

func (p TradeOrder) validate() error {
	switch {
	case p.ClientOrderID == "":
		return errors.Wrap(exception.ErrPayloadSchema, "trade order client_order_id")
	case p.Symbol == "":
		return errors.Wrap(exception.ErrPayloadSchema, "trade order symbol")
	case !p.Side.IsAvailable():
		return errors.Wrapf(exception.ErrPayloadSchema, "trade order side: %q", p.Side)
	case p.Quantity <= 0:
		return errors.Wrapf(exception.ErrPayloadSchema, "trade order quantity: %d", p.Quantity)
	default:
		return nil
	}
}

func (p TradeConfirmation) validate() error {
	switch {
	case p.ClientOrderID == "":
		return errors.Wrap(exception.ErrPayloadSchema, "confirmation client_order_id")
	case p.Status == "":
		return errors.Wrap(exception.ErrPayloadSchema, "confirmation status")
	default:
		return nil
	}
}

func (p Heartbeat) validate() error {
	if p.Service == "" {
		return errors.Wrap(exception.ErrPayloadSchema, "heartbeat service")
	}
	return nil
}

func (p Alert) validate() error {
	switch {
	case p.Service == "":
		return errors.Wrap(exception.ErrPayloadSchema, "alert service")
	case p.Message == "":
		return errors.Wrap(exception.ErrPayloadSchema, "alert message")
	default:
		return nil
	}
}
