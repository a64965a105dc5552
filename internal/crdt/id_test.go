package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/value"
)

func TestCompareIdentifiers(t *testing.T) {
	tests := []struct {
		name string
		a, b Identifier
		want int
	}{
		{"equal", ident("a", 1), ident("a", 1), 0},
		{"seq orders within replica", ident("a", 1), ident("a", 2), -1},
		{"replica before seq", ident("b", 0), ident("a", 9), 1},
		{"null before bool", Identifier{Replica: value.Null{}}, Identifier{Replica: value.Bool(false)}, -1},
		{"bool before number", Identifier{Replica: value.Bool(true)}, Identifier{Replica: value.Number(0)}, -1},
		{"number before string", Identifier{Replica: value.Number(99)}, Identifier{Replica: value.String("")}, -1},
		{"numbers by value", Identifier{Replica: value.Number(10)}, Identifier{Replica: value.Number(9)}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CompareIdentifiers(tt.a, tt.b))
			assert.Equal(t, -tt.want, CompareIdentifiers(tt.b, tt.a))
		})
	}
}

func TestValidateReplicaID(t *testing.T) {
	for _, ok := range []value.Value{value.Null{}, value.Bool(true), value.Number(3), value.String("r")} {
		assert.NoError(t, ValidateReplicaID(ok))
	}

	for _, bad := range []value.Value{nil, value.Array{}, value.Object{}, value.String("\xff")} {
		err := ValidateReplicaID(bad)
		require.Error(t, err)
		assert.True(t, IsInvariantError(err, ErrCodeInvalidReplica))
	}
}

func TestIdentifier_JSON(t *testing.T) {
	data, err := json.Marshal(ident("user1", 7))
	require.NoError(t, err)
	assert.JSONEq(t, `{"replica":"user1","seq":7}`, string(data))

	var got Identifier
	require.NoError(t, json.Unmarshal([]byte(`{"replica":42,"seq":3}`), &got))
	assert.Equal(t, Identifier{Replica: value.Number(42), Seq: 3}, got)
}

func TestIdentifier_UnmarshalRejectsMalformed(t *testing.T) {
	for _, input := range []string{
		`{"replica":[1],"seq":0}`,
		`{"replica":{},"seq":0}`,
		`{"replica":"a"}`,
		`{"replica":"a","seq":-1}`,
		`{"seq":1}`,
		`"a:1"`,
	} {
		var id Identifier
		assert.Error(t, json.Unmarshal([]byte(input), &id), input)
	}
}

func TestIdentifier_String(t *testing.T) {
	assert.Equal(t, `"a":4`, ident("a", 4).String())
	assert.Equal(t, `null:0`, Identifier{}.String())
}

func TestClock_IssuesIncreasingIdentifiers(t *testing.T) {
	c := NewClock(value.String("r"))
	assert.Equal(t, ident("r", 0), c.Next())
	assert.Equal(t, ident("r", 1), c.Next())
	assert.Equal(t, int64(2), c.Current())
}

func TestClock_ObserveOnlyMovesForward(t *testing.T) {
	c := NewClockAt(value.String("r"), 5)

	c.Observe(ident("r", 2))
	assert.Equal(t, int64(5), c.Current())

	c.Observe(ident("other", 100))
	assert.Equal(t, int64(5), c.Current())

	c.Observe(ident("r", 9))
	assert.Equal(t, int64(10), c.Current())
}
