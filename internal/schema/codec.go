package schema

import (
	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

type payload interface {
	validate() error
}

func marshal(p payload) ([]byte, error) {
	buf, err := sonic.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal payload")
	}
	return buf, nil
}

func unmarshal(buf []byte, p payload, v *int) error {
	if err := sonic.Unmarshal(buf, p); err != nil {
		return errors.Wrap(exception.ErrPayloadDecode, err.Error())
	}
	if *v != PayloadVersion {
		return errors.Wrapf(exception.ErrPayloadVersion, "got %d want %d", *v, PayloadVersion)
	}
	return p.validate()
}

// Encode serializes the price fact with the current schema version.
func (p Price) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodePrice deserializes and validates a price fact.
func DecodePrice(buf []byte) (Price, error) {
	var p Price
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the account fact with the current schema version.
func (p AccountBalance) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodeAccountBalance deserializes and validates an account fact.
func DecodeAccountBalance(buf []byte) (AccountBalance, error) {
	var p AccountBalance
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the position fact with the current schema version.
func (p Position) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodePosition deserializes and validates a position fact.
func DecodePosition(buf []byte) (Position, error) {
	var p Position
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the trade order with the current schema version.
func (p TradeOrder) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodeTradeOrder deserializes and validates a trade order.
func DecodeTradeOrder(buf []byte) (TradeOrder, error) {
	var p TradeOrder
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the confirmation with the current schema version.
func (p TradeConfirmation) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodeTradeConfirmation deserializes and validates a confirmation.
func DecodeTradeConfirmation(buf []byte) (TradeConfirmation, error) {
	var p TradeConfirmation
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the heartbeat with the current schema version.
func (p Heartbeat) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodeHeartbeat deserializes and validates a heartbeat.
func DecodeHeartbeat(buf []byte) (Heartbeat, error) {
	var p Heartbeat
	err := unmarshal(buf, &p, &p.V)
	return p, err
}

// Encode serializes the alert with the current schema version.
func (p Alert) Encode() ([]byte, error) {
	p.V = PayloadVersion
	return marshal(p)
}

// DecodeAlert deserializes and validates an alert.
func DecodeAlert(buf []byte) (Alert, error) {
	var p Alert
	err := unmarshal(buf, &p, &p.V)
	return p, err
}
