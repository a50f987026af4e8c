package exception

import "github.com/yanun0323/errors"

// Payload validation errors. Messages failing these checks are discarded
// and logged, never propagated as process failures.
var (
	ErrPayloadSchema  = errors.New("payload: missing required field")
	ErrPayloadVersion = errors.New("payload: unsupported version")
	ErrPayloadDecode  = errors.New("payload: undecodable")
	ErrTopicUnknown   = errors.New("payload: unknown topic")
)
