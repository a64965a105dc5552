package transport_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/value"
	"github.com/roach88/jsoncrdt/internal/wire"
)

// recorder is a Conn that keeps everything sent on it.
type recorder struct {
	mu     sync.Mutex
	sent   []wire.Message
	closed bool
}

func (r *recorder) Send(msg wire.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) take() []wire.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.sent
	r.sent = nil
	return out
}

func newNode(t *testing.T, id string) *transport.Node {
	t.Helper()
	r, err := crdt.New(value.String(id), crdt.WithSeed(1))
	require.NoError(t, err)
	return transport.NewNode(r)
}

func TestNode_AttachRequestsAndSendsCompleteState(t *testing.T) {
	n := newNode(t, "a")
	require.NoError(t, n.Update(value.MustParse(`[1,2]`)))

	c := &recorder{}
	require.NoError(t, n.Attach(c))

	msgs := c.take()
	require.Len(t, msgs, 2)
	assert.Equal(t, wire.ActionSendCompleteState, msgs[0].Action)
	assert.Equal(t, wire.ActionUpdate, msgs[1].Action)
	assert.Len(t, msgs[1].Datums, 3)

	require.NoError(t, n.Attach(c))
	assert.Empty(t, c.take(), "second attach is a no-op")
	assert.Equal(t, 1, n.Conns())
}

func TestNode_EmptyNodeOnlyRequests(t *testing.T) {
	n := newNode(t, "a")
	c := &recorder{}
	require.NoError(t, n.Attach(c))

	msgs := c.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.ActionSendCompleteState, msgs[0].Action)
}

func TestNode_BroadcastsLocalEdits(t *testing.T) {
	n := newNode(t, "a")
	c1, c2 := &recorder{}, &recorder{}
	require.NoError(t, n.Attach(c1))
	require.NoError(t, n.Attach(c2))
	c1.take()
	c2.take()

	require.NoError(t, n.Update(value.MustParse(`{"k":"v"}`)))
	for _, c := range []*recorder{c1, c2} {
		msgs := c.take()
		require.Len(t, msgs, 1)
		assert.Equal(t, wire.ActionUpdate, msgs[0].Action)
		assert.Len(t, msgs[0].Datums, 2)
	}
}

func TestNode_AnswersCompleteStateOnRequesterOnly(t *testing.T) {
	n := newNode(t, "a")
	require.NoError(t, n.Update(value.String("doc")))
	c1, c2 := &recorder{}, &recorder{}
	require.NoError(t, n.Attach(c1))
	require.NoError(t, n.Attach(c2))
	c1.take()
	c2.take()

	require.NoError(t, n.Handle(c2, wire.RequestCompleteState()))
	assert.Empty(t, c1.take())
	msgs := c2.take()
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.ActionUpdate, msgs[0].Action)
}

func TestNode_AppliesUpdatesWithoutEcho(t *testing.T) {
	src := newNode(t, "src")
	srcConn := &recorder{}
	require.NoError(t, src.Attach(srcConn))
	srcConn.take()
	require.NoError(t, src.Update(value.MustParse(`{"a":1}`)))
	update := srcConn.take()
	require.Len(t, update, 1)

	dst := newNode(t, "dst")
	in, other := &recorder{}, &recorder{}
	require.NoError(t, dst.Attach(in))
	require.NoError(t, dst.Attach(other))
	in.take()
	other.take()

	require.NoError(t, dst.Handle(in, update[0]))
	assert.True(t, value.Equal(value.MustParse(`{"a":1}`), dst.State().JSON))
	assert.Empty(t, in.take())
	assert.Empty(t, other.take(), "received updates are not forwarded")
}

func TestNode_IgnoresUnknownActions(t *testing.T) {
	n := newNode(t, "a")
	c := &recorder{}
	require.NoError(t, n.Attach(c))
	c.take()

	require.NoError(t, n.Handle(c, wire.Message{Action: "hello"}))
	assert.Empty(t, c.take())
}

func TestNode_RejectsUnattachedConn(t *testing.T) {
	n := newNode(t, "a")
	err := n.Handle(&recorder{}, wire.RequestCompleteState())
	assert.ErrorIs(t, err, transport.ErrUnknownConn)
}

func TestNode_RejectsMalformedUpdate(t *testing.T) {
	n := newNode(t, "a")
	c := &recorder{}
	require.NoError(t, n.Attach(c))

	bad := wire.Message{
		Action: wire.ActionUpdate,
		Datums: []crdt.Datum{{ID: crdt.Identifier{Replica: value.String("x")}, Value: value.Array{value.Null{}}}},
	}
	err := n.Handle(c, bad)
	require.Error(t, err)
	assert.True(t, crdt.IsInvariantError(err, crdt.ErrCodeMalformedDatum))
	assert.True(t, n.State().Empty)
}

func TestNode_DetachAndClose(t *testing.T) {
	n := newNode(t, "a")
	c1, c2 := &recorder{}, &recorder{}
	require.NoError(t, n.Attach(c1))
	require.NoError(t, n.Attach(c2))

	assert.True(t, n.Detach(c1))
	assert.False(t, n.Detach(c1))
	assert.False(t, c1.closed)

	require.NoError(t, n.Close())
	assert.True(t, c2.closed)
	assert.Equal(t, 0, n.Conns())
}

func TestNode_OnChange(t *testing.T) {
	n := newNode(t, "a")
	var docs []value.Value
	n.OnChange(func(_ []crdt.Datum, doc value.Value) { docs = append(docs, doc) })

	require.NoError(t, n.Update(value.Number(1)))
	require.NoError(t, n.Update(value.Number(2)))
	require.Len(t, docs, 2)
	assert.Equal(t, value.Number(2), docs[1])
}
