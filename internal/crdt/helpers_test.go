package crdt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

func ident(replica string, seq int64) Identifier {
	return Identifier{Replica: value.String(replica), Seq: seq}
}

func ref(id Identifier) *Identifier {
	return &id
}

type fixture struct {
	clock  *Clock
	alloc  *lseq.Allocator
	synth  *Synthesizer
	differ *Differ
}

func newFixture(replica string, seed uint64) *fixture {
	clock := NewClock(value.String(replica))
	alloc := lseq.NewSeededAllocator(seed)
	synth := NewSynthesizer(clock, alloc)
	return &fixture{
		clock:  clock,
		alloc:  alloc,
		synth:  synth,
		differ: NewDiffer(synth, alloc),
	}
}

// model synthesises doc at the root and returns its datums.
func (f *fixture) model(t *testing.T, doc string) []Datum {
	t.Helper()
	datums, err := f.synth.Synthesize(value.MustParse(doc), 0, nil, RootPosition())
	require.NoError(t, err)
	return datums
}

// applyDelta projects model plus delta the way Replica.Apply would.
func applyDelta(t *testing.T, model []Datum, delta Delta) Projection {
	t.Helper()
	tomb := NewTombstones()
	for _, id := range delta.Tombstones {
		tomb.Add(id)
	}
	all := append(CloneDatums(model), CloneDatums(delta.Datums)...)
	proj, err := Project(all, tomb)
	require.NoError(t, err)
	return proj
}

func newReplica(t *testing.T, id string, seed uint64) *Replica {
	t.Helper()
	r, err := New(value.String(id), WithSeed(seed))
	require.NoError(t, err)
	return r
}

func requireJSON(t *testing.T, r *Replica, want string) {
	t.Helper()
	got, ok := r.JSON()
	require.True(t, ok, "document is empty")
	require.True(t, value.Equal(value.MustParse(want), got), "want %s, got %s", want, mustMarshal(got))
}

func mustMarshal(v value.Value) string {
	b, err := value.Marshal(v)
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return string(b)
}

// findLeaf returns the only datum holding the given string.
func findLeaf(t *testing.T, model []Datum, s string) Datum {
	t.Helper()
	var found []Datum
	for _, d := range model {
		if value.Equal(d.Value, value.String(s)) {
			found = append(found, d)
		}
	}
	require.Len(t, found, 1, "datums holding %q", s)
	return found[0]
}

// outbox collects emitted batches.
type outbox struct {
	batches []Batch
}

func (o *outbox) Emit(b Batch) {
	o.batches = append(o.batches, b)
}

func (o *outbox) drain() []Batch {
	out := o.batches
	o.batches = nil
	return out
}

func deliver(t *testing.T, to *Replica, batches []Batch) {
	t.Helper()
	for _, b := range batches {
		require.NoError(t, to.Apply(b.Datums, b.Tombstones, false))
	}
}
