package bus

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

// Wire format: 1-byte op, uint16 topic length, uint32 payload length,
// topic bytes, payload bytes. The topic is the only routing key.
const (
	opData byte = iota + 1
	opSubscribe
	opUnsubscribe
)

const (
	frameHeaderSize = 7
	maxTopicSize    = int(^uint16(0))

	// DefaultMaxFrameSize bounds a single payload on the wire.
	DefaultMaxFrameSize = 1 << 20
)

// Message is one (topic, payload) pair received from the bus.
type Message struct {
	Topic   string
	Payload []byte
}

func writeFrame(w io.Writer, op byte, topic string, payload []byte) error {
	if len(topic) == 0 {
		return exception.ErrBusEmptyTopic
	}
	if len(topic) > maxTopicSize {
		return errors.Wrapf(exception.ErrBusFrameTooLarge, "topic length %d", len(topic))
	}

	buf := make([]byte, frameHeaderSize+len(topic)+len(payload))
	buf[0] = op
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(topic)))
	binary.BigEndian.PutUint32(buf[3:7], uint32(len(payload)))
	copy(buf[frameHeaderSize:], topic)
	copy(buf[frameHeaderSize+len(topic):], payload)

	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

func readFrame(r *bufio.Reader, maxFrameSize int) (op byte, topic string, payload []byte, err error) {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}

	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, "", nil, err
	}

	op = header[0]
	if op < opData || op > opUnsubscribe {
		return 0, "", nil, errors.Wrapf(exception.ErrBusBadFrame, "op %d", op)
	}
	topicLen := int(binary.BigEndian.Uint16(header[1:3]))
	payloadLen := int(binary.BigEndian.Uint32(header[3:7]))
	if topicLen == 0 {
		return 0, "", nil, exception.ErrBusEmptyTopic
	}
	if payloadLen > maxFrameSize {
		return 0, "", nil, errors.Wrapf(exception.ErrBusFrameTooLarge, "payload length %d", payloadLen)
	}

	raw := make([]byte, topicLen+payloadLen)
	if _, err = io.ReadFull(r, raw); err != nil {
		return 0, "", nil, err
	}
	return op, string(raw[:topicLen]), raw[topicLen:], nil
}
