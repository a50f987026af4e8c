package exception

import "github.com/yanun0323/errors"

var (
	ErrBrokerUnreachable = errors.New("broker: unreachable")
	// ErrBrokerAmbiguous marks a submission with no definitive answer.
	// The record stays PENDING and is reconciled by the recovery pass.
	ErrBrokerAmbiguous     = errors.New("broker: ambiguous outcome")
	ErrBrokerUnknownOrder  = errors.New("broker: unknown order")
	ErrBrokerUnsupportedOp = errors.New("broker: unsupported operation")
)
