package crdt

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/testutil"
	"github.com/roach88/jsoncrdt/internal/value"
)

func TestSynthesize_RoundTrip(t *testing.T) {
	docs := []string{
		`null`,
		`"first post!"`,
		`0`,
		`[]`,
		`{}`,
		`["first","middle","last"]`,
		`{"a":[1,[2,[3]]],"b":{"c":{"d":false}},"e":""}`,
		`[null,null,null]`,
	}

	for _, doc := range docs {
		t.Run(doc, func(t *testing.T) {
			f := newFixture("r", 1)
			proj, err := Project(f.model(t, doc), nil)
			require.NoError(t, err)
			assert.False(t, proj.Empty)
			assert.True(t, value.Equal(value.MustParse(doc), proj.Value), mustMarshal(proj.Value))
		})
	}
}

func TestSynthesize_RandomRoundTrip(t *testing.T) {
	gen := testutil.NewGenerator(99)
	f := newFixture("r", 99)

	for i := 0; i < 50; i++ {
		doc := gen.JSON(testutil.DefaultAlpha)
		datums, err := f.synth.Synthesize(doc, 0, nil, RootPosition())
		require.NoError(t, err)

		proj, err := Project(datums, nil)
		require.NoError(t, err)
		require.True(t, value.Equal(doc, proj.Value), "doc %d: %s", i, mustMarshal(doc))
		assert.Len(t, proj.Live, len(datums))
	}
}

func TestSynthesize_AllDatumsShareCounter(t *testing.T) {
	f := newFixture("r", 1)
	datums, err := f.synth.Synthesize(value.MustParse(`{"a":[1,{"b":2}]}`), 7, nil, RootPosition())
	require.NoError(t, err)

	require.Len(t, datums, 5)
	for _, d := range datums {
		assert.Equal(t, int64(7), d.Counter)
	}
}

func TestSynthesize_ParentsFirstAndIndicesAscending(t *testing.T) {
	f := newFixture("r", 1)
	datums, err := f.synth.Synthesize(value.MustParse(`[1,2,3,4,5,6,7,8,9,10]`), 0, nil, RootPosition())
	require.NoError(t, err)
	require.Len(t, datums, 11)

	assert.Nil(t, datums[0].Parent)
	assert.Equal(t, value.Array{}, datums[0].Value)

	var prev lseq.Key
	for i, d := range datums[1:] {
		require.NotNil(t, d.Parent)
		assert.Equal(t, datums[0].ID, *d.Parent)
		assert.Equal(t, value.Number(i+1), d.Value)
		if prev != nil {
			assert.True(t, prev.Less(d.Position.Index()), "index %d not ascending", i)
		}
		prev = d.Position.Index()
	}
}

func TestSynthesize_IdentifiersAreFresh(t *testing.T) {
	f := newFixture("r", 1)
	datums, err := f.synth.Synthesize(value.MustParse(`{"a":1,"b":[2,3]}`), 0, nil, RootPosition())
	require.NoError(t, err)

	seen := IDSet{}
	for _, d := range datums {
		assert.False(t, seen.Has(d.ID))
		seen.Add(d.ID)
	}
	assert.Equal(t, int64(len(datums)), f.clock.Current())
}

func TestSynthesize_MalformedValueAllocatesNothing(t *testing.T) {
	cyclic := value.Array{value.Number(1), nil}
	cyclic[1] = cyclic

	bad := []value.Value{
		value.Number(math.NaN()),
		value.Array{value.Number(1), nil},
		value.Object{"x": value.Number(math.Inf(1))},
		cyclic,
	}

	for _, v := range bad {
		f := newFixture("r", 1)
		datums, err := f.synth.Synthesize(v, 0, nil, RootPosition())
		require.Error(t, err)
		assert.True(t, IsInvariantError(err, ErrCodeMalformedValue))
		assert.Nil(t, datums)
		assert.Equal(t, int64(0), f.clock.Current())
	}
}

func TestSynthesize_PositionMustMatchParent(t *testing.T) {
	f := newFixture("r", 1)

	_, err := f.synth.Synthesize(value.Null{}, 0, nil, KeyPosition("k"))
	assert.Error(t, err)

	parent := ident("r", 100)
	_, err = f.synth.Synthesize(value.Null{}, 0, &parent, RootPosition())
	assert.Error(t, err)
}
