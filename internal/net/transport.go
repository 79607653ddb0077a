// Package net exchanges protocol datagrams between the participants of a
// session. Delivery is best effort: datagrams may be lost, duplicated or
// reordered and the protocol above is expected to cope with it.
package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/drand/ordering/common/key"
	"github.com/drand/ordering/common/log"
	"github.com/drand/ordering/internal/metrics"
)

// DefaultBindRetry is how long a participant waits before trying to bind its
// endpoint again.
const DefaultBindRetry = 10 * time.Second

// Recipient designates who a datagram is for: everyone but the sender, or a
// single participant.
type Recipient struct {
	All   bool
	Index key.Index
}

// Everyone addresses every other participant.
var Everyone = Recipient{All: true}

// ToNode addresses the participant i only.
func ToNode(i key.Index) Recipient {
	return Recipient{Index: i}
}

func (r Recipient) String() string {
	if r.All {
		return "everyone"
	}
	return fmt.Sprintf("node %d", r.Index)
}

// Option configures a Transport.
type Option func(*options)

type options struct {
	maxSize   int
	bindRetry time.Duration
}

// WithMaxDatagramSize bounds the size of datagrams sent and received.
func WithMaxDatagramSize(n int) Option {
	return func(o *options) {
		o.maxSize = n
	}
}

// WithBindRetry sets the wait between two binding attempts.
func WithBindRetry(d time.Duration) Option {
	return func(o *options) {
		o.bindRetry = d
	}
}

// Transport sends and receives messages of type T over UDP. Sends may be
// issued concurrently; Next must be called from a single receive loop.
type Transport[T any] struct {
	index   key.Index
	addrs   *Addresses
	conn    *net.UDPConn
	codec   *Codec
	maxSize int

	recv sync.Mutex
	buf  []byte

	log log.Logger
}

// NewTransport binds the endpoint registered for index in addrs. While the
// endpoint is taken, typically by a previous instance still shutting down, it
// waits and tries again until ctx is done.
func NewTransport[T any](ctx context.Context, l log.Logger, index key.Index, addrs *Addresses, opts ...Option) (*Transport[T], error) {
	o := &options{
		maxSize:   MaxDatagramSize,
		bindRetry: DefaultBindRetry,
	}
	for _, opt := range opts {
		opt(o)
	}

	self, ok := addrs.Get(index)
	if !ok {
		return nil, fmt.Errorf("transport: no address registered for own index %d", index)
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}

	conn, err := bind(ctx, l, self, o.bindRetry)
	if err != nil {
		return nil, err
	}
	l.Infow("transport bound", "index", index, "addr", conn.LocalAddr().String())

	return &Transport[T]{
		index:   index,
		addrs:   addrs,
		conn:    conn,
		codec:   codec,
		maxSize: o.maxSize,
		buf:     make([]byte, o.maxSize),
		log:     l,
	}, nil
}

func bind(ctx context.Context, l log.Logger, addr *net.UDPAddr, wait time.Duration) (*net.UDPConn, error) {
	if wait <= 0 {
		wait = DefaultBindRetry
	}
	backoff := retry.NewConstant(wait)
	var conn *net.UDPConn
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := net.ListenUDP("udp", addr)
		if err != nil {
			l.Errorw("could not bind, waiting before the next attempt", "addr", addr.String(), "wait", wait, "err", err)
			return retry.RetryableError(err)
		}
		conn = c
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("transport: binding %s: %w", addr, err)
	}
	return conn, nil
}

// LocalAddr returns the bound endpoint.
func (t *Transport[T]) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Send encodes msg once and delivers it to the recipient. Failures are logged
// and otherwise ignored.
func (t *Transport[T]) Send(msg T, r Recipient) {
	buff, err := t.codec.Marshal(msg)
	if err != nil {
		t.log.Errorw("could not encode message", "recipient", r, "err", err)
		metrics.DatagramsDropped.WithLabelValues(metrics.DropEncode).Inc()
		return
	}
	if len(buff) > t.maxSize {
		t.log.Warnw("message too large, dropping", "recipient", r, "size", len(buff), "max", t.maxSize)
		metrics.DatagramsDropped.WithLabelValues(metrics.DropOversized).Inc()
		return
	}

	if r.All {
		for _, i := range t.addrs.Indices() {
			if i == t.index {
				continue
			}
			addr, _ := t.addrs.Get(i)
			t.sendTo(buff, addr)
		}
		return
	}

	addr, ok := t.addrs.Get(r.Index)
	if !ok {
		t.log.Infow("no address for recipient", "recipient", r.Index)
		return
	}
	t.sendTo(buff, addr)
}

func (t *Transport[T]) sendTo(buff []byte, addr *net.UDPAddr) {
	t.log.Debugw("sending datagram", "to", addr.String(), "size", len(buff))
	if _, err := t.conn.WriteToUDP(buff, addr); err != nil {
		t.log.Warnw("failed to write datagram", "to", addr.String(), "err", err)
		metrics.DatagramsDropped.WithLabelValues(metrics.DropSend).Inc()
		return
	}
	metrics.DatagramsSent.Inc()
}

// Next waits for the next datagram and decodes it. It returns false when the
// datagram could not be decoded or was truncated, when the transport is
// closed and when ctx is done.
func (t *Transport[T]) Next(ctx context.Context) (T, bool) {
	var msg T

	t.recv.Lock()
	defer t.recv.Unlock()

	if ctx.Err() != nil {
		return msg, false
	}
	_ = t.conn.SetReadDeadline(time.Time{})
	stop := context.AfterFunc(ctx, func() {
		_ = t.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	n, _, flags, from, err := t.conn.ReadMsgUDP(t.buf, nil)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, net.ErrClosed):
			t.log.Debugw("transport closed")
		default:
			t.log.Errorw("could not receive datagram", "err", err)
			metrics.DatagramsDropped.WithLabelValues(metrics.DropReceive).Inc()
		}
		return msg, false
	}
	if flags&msgTrunc != 0 {
		t.log.Warnw("datagram larger than receive buffer, dropping", "from", from.String(), "max", t.maxSize)
		metrics.DatagramsDropped.WithLabelValues(metrics.DropTruncated).Inc()
		return msg, false
	}
	if err := t.codec.Unmarshal(t.buf[:n], &msg); err != nil {
		t.log.Warnw("could not decode datagram", "from", from.String(), "size", n, "err", err)
		metrics.DatagramsDropped.WithLabelValues(metrics.DropDecode).Inc()
		var zero T
		return zero, false
	}
	metrics.DatagramsReceived.Inc()
	return msg, true
}

// Close releases the socket. A pending Next returns false.
func (t *Transport[T]) Close() error {
	return t.conn.Close()
}
