package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

func TestLog_AddDeduplicatesIdenticalDatums(t *testing.T) {
	l := NewLog()
	d := Datum{ID: ident("a", 0), Value: value.String("x")}

	added, err := l.Add(d)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = l.Add(d.Clone())
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, l.Len())
}

func TestLog_AddRejectsReusedIdentifier(t *testing.T) {
	l := NewLog()
	_, err := l.Add(Datum{ID: ident("a", 0), Value: value.String("x")})
	require.NoError(t, err)

	_, err = l.Add(Datum{ID: ident("a", 0), Value: value.String("y")})
	require.Error(t, err)
	assert.True(t, IsInvariantError(err, ErrCodeDuplicateIdentifier))
	assert.Equal(t, 1, l.Len())
}

func TestLog_RetainKeepsOrder(t *testing.T) {
	l := NewLog()
	for i := int64(0); i < 5; i++ {
		_, err := l.Add(Datum{ID: ident("a", i), Value: value.Number(i)})
		require.NoError(t, err)
	}

	keep := IDSet{}
	keep.Add(ident("a", 1))
	keep.Add(ident("a", 3))
	assert.Equal(t, 3, l.Retain(keep))

	require.Equal(t, 2, l.Len())
	assert.Equal(t, ident("a", 1), l.Datums()[0].ID)
	assert.Equal(t, ident("a", 3), l.Datums()[1].ID)

	_, ok := l.Get(ident("a", 0))
	assert.False(t, ok)
	got, ok := l.Get(ident("a", 3))
	require.True(t, ok)
	assert.Equal(t, value.Number(3), got.Value)
}

func TestLog_PruneDropsTombstonedSubtrees(t *testing.T) {
	l := NewLog()
	root := Datum{ID: ident("a", 0), Value: value.Object{}}
	list := Datum{ID: ident("a", 1), Parent: ref(root.ID), Value: value.Array{}, Position: KeyPosition("list")}
	elem := Datum{ID: ident("a", 2), Parent: ref(list.ID), Value: value.Number(1), Position: IndexPosition(lseq.Key{4})}
	name := Datum{ID: ident("a", 3), Parent: ref(root.ID), Value: value.String("x"), Position: KeyPosition("name")}
	rival := Datum{ID: ident("b", 0), Parent: ref(root.ID), Value: value.String("y"), Position: KeyPosition("name")}
	// Arrived before its parent; kept until the parent shows up.
	orphan := Datum{ID: ident("c", 1), Parent: ref(ident("c", 0)), Value: value.Null{}, Position: KeyPosition("z")}
	for _, d := range []Datum{elem, root, list, name, rival, orphan} {
		_, err := l.Add(d)
		require.NoError(t, err)
	}

	ts := NewTombstones()
	assert.Zero(t, l.Prune(ts))

	ts.Add(list.ID)
	ts.Add(name.ID)
	assert.Equal(t, 3, l.Prune(ts))

	var kept []Identifier
	for _, d := range l.Datums() {
		kept = append(kept, d.ID)
	}
	assert.Equal(t, []Identifier{root.ID, rival.ID, orphan.ID}, kept)
}

func TestLog_CloneIsIndependent(t *testing.T) {
	l := NewLog()
	_, err := l.Add(Datum{ID: ident("a", 0), Value: value.Null{}})
	require.NoError(t, err)

	c := l.Clone()
	_, err = c.Add(Datum{ID: ident("a", 1), Value: value.Null{}})
	require.NoError(t, err)

	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 2, c.Len())
}

func TestTombstones(t *testing.T) {
	ts := NewTombstones()
	assert.True(t, ts.Add(ident("b", 1)))
	assert.True(t, ts.Add(ident("a", 0)))
	assert.False(t, ts.Add(ident("b", 1)))

	assert.True(t, ts.Has(ident("a", 0)))
	assert.False(t, ts.Has(ident("a", 1)))
	assert.Equal(t, []Identifier{ident("b", 1), ident("a", 0)}, ts.List())

	var none *Tombstones
	assert.False(t, none.Has(ident("a", 0)))
	assert.Equal(t, 0, none.Len())
	assert.Empty(t, none.List())
}
