// Package local connects transport nodes inside one process.
//
// Messages are encoded to bytes on Send and decoded on delivery, exactly as
// a socket would carry them, and sit in per-direction queues until Flush.
// Each direction is FIFO. With shuffling enabled Flush interleaves the
// directions at random; with duplication enabled some messages are
// delivered twice. Both are driven by a seed so failures replay.
package local

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/wire"
)

// ErrClosed is returned by Send on a closed link.
var ErrClosed = errors.New("local: link closed")

// Network is a set of in-process links between nodes.
//
// Thread-safety: all methods are safe for concurrent use. Flush delivers
// messages one at a time and must not be called concurrently with itself.
type Network struct {
	mu       sync.Mutex
	pipes    []*pipe
	rng      *rand.Rand
	shuffle  bool
	dupRate  float64
	logger   *slog.Logger
	sent     int
	received int
}

// Option configures a Network.
type Option func(*Network)

// WithShuffle interleaves the delivery queues of different links at random.
func WithShuffle(seed uint64) Option {
	return func(n *Network) {
		n.shuffle = true
		n.rng = rand.New(rand.NewPCG(seed, seed+1))
	}
}

// WithDuplicates delivers each message a second time with probability rate.
func WithDuplicates(rate float64, seed uint64) Option {
	return func(n *Network) {
		n.dupRate = rate
		if n.rng == nil {
			n.rng = rand.New(rand.NewPCG(seed, seed+1))
		}
	}
}

// WithLogger sets the network logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(n *Network) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNetwork creates an empty network.
func NewNetwork(opts ...Option) *Network {
	n := &Network{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// pipe is one direction of a link: messages sent by one node's endpoint,
// waiting for delivery to the other node.
type pipe struct {
	to     *transport.Node
	toConn *endpoint // the receiving node's endpoint, used as "from" in Handle
	queue  [][]byte
	closed bool
}

// endpoint is one node's view of a link; it implements transport.Conn.
type endpoint struct {
	net *Network
	out *pipe
	in  *pipe
}

// Send encodes msg and queues it for delivery.
func (e *endpoint) Send(msg wire.Message) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	if e.out.closed {
		return ErrClosed
	}
	e.out.queue = append(e.out.queue, data)
	e.net.sent++
	return nil
}

// Close shuts both directions of the link and drops undelivered messages.
func (e *endpoint) Close() error {
	e.net.mu.Lock()
	defer e.net.mu.Unlock()
	for _, p := range []*pipe{e.out, e.in} {
		p.closed = true
		p.queue = nil
	}
	return nil
}

// Link is a bidirectional connection between two nodes.
type Link struct {
	a, b         *transport.Node
	aConn, bConn *endpoint
}

// Close detaches both nodes and closes the link.
func (l *Link) Close() error {
	l.a.Detach(l.aConn)
	l.b.Detach(l.bConn)
	return l.aConn.Close()
}

// Connect links a and b. Both nodes attach their end immediately, which
// queues the complete-state exchange; call Flush to deliver it.
func (n *Network) Connect(a, b *transport.Node) (*Link, error) {
	if a == b {
		return nil, fmt.Errorf("connect: cannot link a node to itself")
	}
	ab := &pipe{to: b}
	ba := &pipe{to: a}
	aConn := &endpoint{net: n, out: ab, in: ba}
	bConn := &endpoint{net: n, out: ba, in: ab}
	ab.toConn = bConn
	ba.toConn = aConn

	n.mu.Lock()
	n.pipes = append(n.pipes, ab, ba)
	n.mu.Unlock()

	if err := a.Attach(aConn); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := b.Attach(bConn); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	return &Link{a: a, b: b, aConn: aConn, bConn: bConn}, nil
}

// Pending returns the number of queued, undelivered messages.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, p := range n.pipes {
		total += len(p.queue)
	}
	return total
}

// Stats returns how many messages were sent and delivered so far.
func (n *Network) Stats() (sent, received int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent, n.received
}

// Flush delivers queued messages, including the ones sent in response,
// until every queue is empty. It returns the number of deliveries and the
// errors reported by receiving nodes.
func (n *Network) Flush() (int, error) {
	var (
		delivered int
		errs      []error
	)
	for {
		p, data, dup, ok := n.next()
		if !ok {
			return delivered, errors.Join(errs...)
		}
		msg, err := wire.Decode(data)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		times := 1
		if dup {
			times = 2
		}
		for range times {
			delivered++
			if err := p.to.Handle(p.toConn, msg); err != nil && !errors.Is(err, transport.ErrUnknownConn) {
				errs = append(errs, err)
			}
		}
	}
}

// next pops one message. FIFO order over the pipes unless shuffling.
func (n *Network) next() (*pipe, []byte, bool, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ready []*pipe
	for _, p := range n.pipes {
		if len(p.queue) > 0 {
			ready = append(ready, p)
		}
	}
	if len(ready) == 0 {
		return nil, nil, false, false
	}
	p := ready[0]
	if n.shuffle {
		p = ready[n.rng.IntN(len(ready))]
	}
	data := p.queue[0]
	p.queue = p.queue[1:]
	n.received++

	dup := n.dupRate > 0 && n.rng.Float64() < n.dupRate
	if dup {
		n.logger.Debug("duplicating delivery", "bytes", len(data))
	}
	return p, data, dup, true
}
