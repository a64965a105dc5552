package transport

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/value"
	"github.com/roach88/jsoncrdt/internal/wire"
)

// Conn delivers messages to one remote node.
//
// Send is called while the node holds its lock. It must not block and must
// not call back into the node; implementations queue the message.
type Conn interface {
	Send(msg wire.Message) error
	Close() error
}

// ErrUnknownConn is returned by Handle for a connection that is not attached.
var ErrUnknownConn = errors.New("transport: connection not attached")

// Node is a replica plus the connections it synchronises over.
//
// Thread-safety: all methods are safe for concurrent use. Change listeners
// run with the node lock held and must not call node methods.
type Node struct {
	mu      sync.Mutex
	replica *crdt.Replica
	conns   []Conn
	replyTo Conn // set while answering a sendCompleteState request
	logger  *slog.Logger
}

// NodeOption configures a Node.
type NodeOption func(*Node)

// WithLogger sets the node logger. Default: discard.
func WithLogger(l *slog.Logger) NodeOption {
	return func(n *Node) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNode wraps replica. The node installs itself as the replica's emitter;
// the replica must not be used directly afterwards.
func NewNode(replica *crdt.Replica, opts ...NodeOption) *Node {
	n := &Node{
		replica: replica,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(n)
	}
	replica.SetEmitter(crdt.EmitterFunc(n.emit))
	return n
}

// ID returns the replica id.
func (n *Node) ID() value.Value {
	return n.replica.ID()
}

// Attach starts synchronising over c: it requests the far side's complete
// state and sends its own. Attaching the same connection twice is a no-op.
func (n *Node) Attach(c Conn) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.indexOf(c) >= 0 {
		return nil
	}
	n.conns = append(n.conns, c)
	n.logger.Debug("connection attached", "replica", n.replica.ID(), "conns", len(n.conns))

	if err := c.Send(wire.RequestCompleteState()); err != nil {
		return fmt.Errorf("attach: request complete state: %w", err)
	}
	n.completeStateTo(c)
	return nil
}

// Detach stops synchronising over c without closing it. It reports whether
// c was attached.
func (n *Node) Detach(c Conn) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	i := n.indexOf(c)
	if i < 0 {
		return false
	}
	n.conns = append(n.conns[:i:i], n.conns[i+1:]...)
	n.logger.Debug("connection detached", "replica", n.replica.ID(), "conns", len(n.conns))
	return true
}

// Conns returns the number of attached connections.
func (n *Node) Conns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Handle processes a message received on from. Updates are applied without
// re-emitting; complete-state requests are answered on from only. Messages
// with unknown actions are ignored.
func (n *Node) Handle(from Conn, msg wire.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.indexOf(from) < 0 {
		return ErrUnknownConn
	}
	switch msg.Action {
	case wire.ActionUpdate:
		if err := n.replica.Apply(msg.Datums, msg.Tombstones, false); err != nil {
			n.logger.Warn("rejected update",
				"replica", n.replica.ID(),
				"datums", len(msg.Datums),
				"tombstones", len(msg.Tombstones),
				"error", err,
			)
			return fmt.Errorf("handle update: %w", err)
		}
	case wire.ActionSendCompleteState:
		n.completeStateTo(from)
	default:
		n.logger.Debug("ignored message", "replica", n.replica.ID(), "action", msg.Action)
	}
	return nil
}

// Update replaces the document with target, diffing against the current
// model, and broadcasts the change.
func (n *Node) Update(target value.Value) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Update(target)
}

// SetState diffs previous against target and broadcasts the change.
func (n *Node) SetState(previous []crdt.Datum, target value.Value) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.SetState(previous, target)
}

// State returns a copy of the replica state.
func (n *Node) State() crdt.State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.State()
}

// Tombstones returns the replica's tombstones.
func (n *Node) Tombstones() []crdt.Identifier {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Tombstones()
}

// Digest returns the replica's document digest ("" when empty).
func (n *Node) Digest() (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Digest()
}

// Snapshot captures the replica for persistence.
func (n *Node) Snapshot() crdt.Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.Snapshot()
}

// OnChange registers fn to run after every change to the document.
func (n *Node) OnChange(fn crdt.Listener) crdt.ListenerID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.replica.AddListener(fn)
}

// Close detaches and closes every connection.
func (n *Node) Close() error {
	n.mu.Lock()
	conns := n.conns
	n.conns = nil
	n.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// completeStateTo sends the whole replica state to c alone. Callers hold mu.
func (n *Node) completeStateTo(c Conn) {
	n.replyTo = c
	defer func() { n.replyTo = nil }()
	n.replica.EmitCompleteState()
}

// emit is the replica's emitter. It runs inside replica calls, with mu held.
func (n *Node) emit(b crdt.Batch) {
	msg := wire.Update(b)
	targets := n.conns
	if n.replyTo != nil {
		targets = []Conn{n.replyTo}
	}
	for _, c := range targets {
		if err := c.Send(msg); err != nil {
			n.logger.Warn("send failed",
				"replica", n.replica.ID(),
				"datums", len(b.Datums),
				"tombstones", len(b.Tombstones),
				"error", err,
			)
		}
	}
}

func (n *Node) indexOf(c Conn) int {
	for i, existing := range n.conns {
		if existing == c {
			return i
		}
	}
	return -1
}
