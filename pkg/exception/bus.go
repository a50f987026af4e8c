package exception

import "github.com/yanun0323/errors"

var (
	ErrBusUnreachable   = errors.New("bus: unreachable")
	ErrBusClosed        = errors.New("bus: client closed")
	ErrBusFrameTooLarge = errors.New("bus: frame exceeds max size")
	ErrBusBadFrame      = errors.New("bus: malformed frame")
	ErrBusEmptyTopic    = errors.New("bus: empty topic")
	ErrBusEmptyPrefix   = errors.New("bus: empty subscribe prefix")
)
