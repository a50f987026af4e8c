package exception

import "github.com/yanun0323/errors"

var (
	// ErrLedgerWrite means the PENDING intent write could not be confirmed.
	// The order must not reach the broker when this is returned.
	ErrLedgerWrite       = errors.New("ledger: durable write failed")
	ErrDuplicateOrder    = errors.New("ledger: client order id already recorded")
	ErrRecordNotFound    = errors.New("ledger: record not found")
	ErrRecordNotPending  = errors.New("ledger: record already terminal")
	ErrInvalidTradeOrder = errors.New("ledger: invalid trade order")
)
