package bus

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"sync"

	"github.com/yanun0323/logs"

	"main/internal/obs"
	"main/pkg/exception"
)

// RelayConfig defines the relay endpoints and limits.
type RelayConfig struct {
	// PubAddr is the inbound bind address publishers connect to.
	PubAddr string
	// SubAddr is the outbound bind address subscribers connect to.
	SubAddr string

	MaxFrameSize    int
	SubscriberQueue int
	Metrics         *obs.Metrics
}

// Relay is the stateless best-effort fan-out between publishers and
// subscribers. It keeps no persistent state; any publisher or subscriber
// may disconnect and reconnect without affecting the others.
type Relay struct {
	cfg RelayConfig

	pubLn net.Listener
	subLn net.Listener

	mu   sync.Mutex
	subs map[*subscriber]struct{}

	closeOnce sync.Once
}

type subscriber struct {
	conn net.Conn

	mu       sync.Mutex
	prefixes []string

	out  chan Message
	done chan struct{}
}

// NewRelay validates the config and builds a relay.
func NewRelay(cfg RelayConfig) (*Relay, error) {
	if cfg.PubAddr == "" || cfg.SubAddr == "" {
		return nil, exception.ErrInvalidArgument
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	if cfg.SubscriberQueue <= 0 {
		cfg.SubscriberQueue = 1024
	}
	return &Relay{
		cfg:  cfg,
		subs: make(map[*subscriber]struct{}),
	}, nil
}

// Listen binds both endpoints.
func (r *Relay) Listen() error {
	pubLn, err := net.Listen("tcp", r.cfg.PubAddr)
	if err != nil {
		return err
	}
	subLn, err := net.Listen("tcp", r.cfg.SubAddr)
	if err != nil {
		_ = pubLn.Close()
		return err
	}
	r.pubLn = pubLn
	r.subLn = subLn
	return nil
}

// PubAddr returns the bound publisher endpoint address.
func (r *Relay) PubAddr() string {
	if r.pubLn == nil {
		return r.cfg.PubAddr
	}
	return r.pubLn.Addr().String()
}

// SubAddr returns the bound subscriber endpoint address.
func (r *Relay) SubAddr() string {
	if r.subLn == nil {
		return r.cfg.SubAddr
	}
	return r.subLn.Addr().String()
}

// Run accepts publishers and subscribers until ctx is done or a listener
// fails. A listener failure is returned to the caller and must be treated
// as fatal to the process; external supervision restarts the relay.
func (r *Relay) Run(ctx context.Context) error {
	if r.pubLn == nil || r.subLn == nil {
		if err := r.Listen(); err != nil {
			return err
		}
	}

	errCh := make(chan error, 2)
	go r.acceptLoop(ctx, r.pubLn, r.handlePublisher, errCh)
	go r.acceptLoop(ctx, r.subLn, r.handleSubscriber, errCh)

	select {
	case <-ctx.Done():
		r.Close()
		return ctx.Err()
	case err := <-errCh:
		r.Close()
		return err
	}
}

// Close stops both listeners and disconnects every peer.
func (r *Relay) Close() {
	r.closeOnce.Do(func() {
		if r.pubLn != nil {
			_ = r.pubLn.Close()
		}
		if r.subLn != nil {
			_ = r.subLn.Close()
		}
		r.mu.Lock()
		for sub := range r.subs {
			_ = sub.conn.Close()
		}
		r.mu.Unlock()
	})
}

func (r *Relay) acceptLoop(ctx context.Context, ln net.Listener, handle func(net.Conn), errCh chan<- error) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				errCh <- nil
				return
			}
			errCh <- err
			return
		}
		go handle(conn)
	}
}

func (r *Relay) handlePublisher(conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	for {
		op, topic, payload, err := readFrame(reader, r.cfg.MaxFrameSize)
		if err != nil {
			return
		}
		if op != opData {
			logs.Warnf("relay: publisher sent control frame op=%d, dropping connection", op)
			return
		}
		r.fanout(topic, payload)
	}
}

func (r *Relay) handleSubscriber(conn net.Conn) {
	sub := &subscriber{
		conn: conn,
		out:  make(chan Message, r.cfg.SubscriberQueue),
		done: make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.subs, sub)
		r.mu.Unlock()
		close(sub.done)
		_ = conn.Close()
	}()

	go sub.writeLoop()

	reader := bufio.NewReader(conn)
	for {
		op, topic, _, err := readFrame(reader, r.cfg.MaxFrameSize)
		if err != nil {
			return
		}
		switch op {
		case opSubscribe:
			sub.addPrefix(topic)
		case opUnsubscribe:
			sub.removePrefix(topic)
		default:
			logs.Warnf("relay: subscriber sent data frame, dropping connection")
			return
		}
	}
}

// fanout forwards one frame to every matching subscriber. Frames for slow
// subscribers are dropped rather than blocking the publisher read loop.
func (r *Relay) fanout(topic string, payload []byte) {
	r.mu.Lock()
	targets := make([]*subscriber, 0, len(r.subs))
	for sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	matched := false
	for _, sub := range targets {
		if !sub.matches(topic) {
			continue
		}
		matched = true
		select {
		case sub.out <- Message{Topic: topic, Payload: payload}:
		default:
			r.cfg.Metrics.IncRelaySlowDrop()
		}
	}
	if matched {
		r.cfg.Metrics.IncRelayForwarded()
	} else {
		// No matching subscriber is not an error; the frame just vanishes.
		r.cfg.Metrics.IncRelayNoMatch()
	}
}

func (s *subscriber) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := writeFrame(s.conn, opData, msg.Topic, msg.Payload); err != nil {
				_ = s.conn.Close()
				return
			}
		}
	}
}

func (s *subscriber) addPrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.prefixes {
		if p == prefix {
			return
		}
	}
	s.prefixes = append(s.prefixes, prefix)
}

func (s *subscriber) removePrefix(prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range s.prefixes {
		if p == prefix {
			s.prefixes = append(s.prefixes[:i], s.prefixes[i+1:]...)
			return
		}
	}
}

func (s *subscriber) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, prefix := range s.prefixes {
		if strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}
