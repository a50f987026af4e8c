package bus

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/pkg/exception"
)

// ClientConfig defines how a service reaches the bus.
type ClientConfig struct {
	// PubAddr is the relay's inbound endpoint, used by Publish.
	PubAddr string
	// SubAddr is the relay's outbound endpoint, used by Subscribe.
	SubAddr string

	DialTimeout  time.Duration
	MaxFrameSize int
	QueueSize    int
	Backoff      Backoff
}

// Client gives a service uniform, address-free access to the bus.
//
// Publish is best-effort: a failed publish is reported and dropped, never
// buffered or retried. Subscriptions are transparent across reconnects:
// the client redials with backoff and reissues every desired prefix, since
// subscription state lives at the bus side of the connection.
type Client struct {
	cfg ClientConfig

	pubMu   sync.Mutex
	pubConn net.Conn

	subs *subscriptions

	subMu   sync.Mutex
	subConn net.Conn

	queue   chan Message
	started atomic.Bool
	closed  atomic.Bool
}

// NewClient builds a client. Start must be called before messages arrive.
func NewClient(cfg ClientConfig) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 3 * time.Second
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 4096
	}
	if cfg.Backoff == (Backoff{}) {
		cfg.Backoff = DefaultBackoff()
	}
	return &Client{
		cfg:   cfg,
		subs:  newSubscriptions(),
		queue: make(chan Message, cfg.QueueSize),
	}
}

// Publish serializes nothing and retries nothing: it frames the already
// serialized payload and writes it to the inbound endpoint. When the bus is
// unreachable the message is dropped and ErrBusUnreachable is returned.
func (c *Client) Publish(topic string, payload []byte) error {
	if c.closed.Load() {
		return exception.ErrBusClosed
	}

	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	if c.pubConn == nil {
		conn, err := net.DialTimeout("tcp", c.cfg.PubAddr, c.cfg.DialTimeout)
		if err != nil {
			return errors.Wrap(exception.ErrBusUnreachable, err.Error())
		}
		c.pubConn = conn
	}

	err := writeFrame(c.pubConn, opData, topic, payload)
	if err == nil {
		return nil
	}

	// A stale connection is indistinguishable from a dead relay; one fresh
	// dial decides which it was. The message itself is never re-sent later.
	_ = c.pubConn.Close()
	c.pubConn = nil
	conn, dialErr := net.DialTimeout("tcp", c.cfg.PubAddr, c.cfg.DialTimeout)
	if dialErr != nil {
		return errors.Wrap(exception.ErrBusUnreachable, dialErr.Error())
	}
	if err = writeFrame(conn, opData, topic, payload); err != nil {
		_ = conn.Close()
		return errors.Wrap(exception.ErrBusUnreachable, err.Error())
	}
	c.pubConn = conn
	return nil
}

// Subscribe registers one or more hierarchical topic prefixes.
// Prefixes take effect immediately on a live connection and are reissued
// automatically after every reconnect.
func (c *Client) Subscribe(prefixes ...string) error {
	if len(prefixes) == 0 {
		return exception.ErrBusEmptyPrefix
	}
	for _, prefix := range prefixes {
		if prefix == "" {
			return exception.ErrBusEmptyPrefix
		}
	}
	for _, prefix := range prefixes {
		if !c.subs.Add(prefix) {
			continue
		}
		c.subMu.Lock()
		conn := c.subConn
		c.subMu.Unlock()
		if conn == nil {
			continue
		}
		if err := writeFrame(conn, opSubscribe, prefix, nil); err != nil {
			// The reconnect loop reissues the full desired set.
			_ = conn.Close()
			continue
		}
		c.subs.MarkActive(prefix)
	}
	return nil
}

// Unsubscribe removes a desired prefix.
func (c *Client) Unsubscribe(prefix string) error {
	if prefix == "" {
		return exception.ErrBusEmptyPrefix
	}
	if !c.subs.Remove(prefix) {
		return nil
	}
	c.subMu.Lock()
	conn := c.subConn
	c.subMu.Unlock()
	if conn == nil {
		return nil
	}
	if err := writeFrame(conn, opUnsubscribe, prefix, nil); err != nil {
		_ = conn.Close()
	}
	return nil
}

// Start launches the background subscriber connection loop.
func (c *Client) Start(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	go c.runLoop(ctx)
}

// Receive waits up to timeout for the next subscribed message. The bounded
// timeout lets a hosting loop interleave periodic work on an idle bus.
func (c *Client) Receive(timeout time.Duration) (Message, bool) {
	if timeout <= 0 {
		select {
		case msg := <-c.queue:
			return msg, true
		default:
			return Message{}, false
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-c.queue:
		return msg, true
	case <-timer.C:
		return Message{}, false
	}
}

// Close tears down both connections. The client is not restartable.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	c.pubMu.Lock()
	if c.pubConn != nil {
		_ = c.pubConn.Close()
		c.pubConn = nil
	}
	c.pubMu.Unlock()

	c.subMu.Lock()
	if c.subConn != nil {
		_ = c.subConn.Close()
		c.subConn = nil
	}
	c.subMu.Unlock()
}

func (c *Client) runLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil || c.closed.Load() {
			return
		}

		conn, err := net.DialTimeout("tcp", c.cfg.SubAddr, c.cfg.DialTimeout)
		if err != nil {
			attempt++
			c.sleepBackoff(ctx, attempt)
			continue
		}
		attempt = 0

		c.subMu.Lock()
		c.subConn = conn
		c.subMu.Unlock()

		c.subs.ClearActive()
		if err := c.resubscribe(conn); err != nil {
			logs.Warnf("bus client: resubscribe failed: %v", err)
			c.dropSubConn(conn)
			attempt++
			c.sleepBackoff(ctx, attempt)
			continue
		}

		c.readLoop(ctx, conn)
		c.dropSubConn(conn)

		if ctx.Err() != nil || c.closed.Load() {
			return
		}
		attempt++
		c.sleepBackoff(ctx, attempt)
	}
}

func (c *Client) resubscribe(conn net.Conn) error {
	for _, prefix := range c.subs.Desired() {
		if err := writeFrame(conn, opSubscribe, prefix, nil); err != nil {
			return err
		}
		c.subs.MarkActive(prefix)
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		op, topic, payload, err := readFrame(reader, c.cfg.MaxFrameSize)
		if err != nil {
			return
		}
		if op != opData {
			continue
		}
		c.enqueue(Message{Topic: topic, Payload: payload})
		if ctx.Err() != nil {
			return
		}
	}
}

// enqueue drops the oldest queued message when full. The bus offers
// at-most-once delivery, so shedding under pressure is already within
// contract; consumers compensate, not the client.
func (c *Client) enqueue(msg Message) {
	select {
	case c.queue <- msg:
		return
	default:
	}
	select {
	case <-c.queue:
	default:
	}
	select {
	case c.queue <- msg:
	default:
	}
}

func (c *Client) dropSubConn(conn net.Conn) {
	c.subMu.Lock()
	if c.subConn == conn {
		c.subConn = nil
	}
	c.subMu.Unlock()
	_ = conn.Close()
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	wait := c.cfg.Backoff.Next(attempt)
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
