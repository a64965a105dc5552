package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/store"
	"github.com/roach88/jsoncrdt/internal/value"
)

// seedStore saves two snapshots: user1 holding {"a":[1,2]} and 42 holding
// "x" after a deletion.
func seedStore(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	user1, err := crdt.New(value.String("user1"), crdt.WithSeed(1))
	require.NoError(t, err)
	require.NoError(t, user1.Update(value.MustParse(`{"a":[1,2]}`)))

	n42, err := crdt.New(value.Number(42), crdt.WithSeed(2))
	require.NoError(t, err)
	require.NoError(t, n42.Update(value.MustParse(`["x","y"]`)))
	require.NoError(t, n42.Update(value.MustParse(`["x"]`)))

	ctx := context.Background()
	require.NoError(t, st.Save(ctx, user1.Snapshot()))
	require.NoError(t, st.Save(ctx, n42.Snapshot()))
	return path
}

func TestInspect_List(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, "inspect", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "REPLICA")
	assert.Contains(t, out, `"user1"`)
	assert.Contains(t, out, "42")
}

func TestInspect_ListEmpty(t *testing.T) {
	out, err := execute(t, "inspect", "--db", filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	assert.Equal(t, "No snapshots.\n", out)
}

func TestInspect_Replica(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, "inspect", "--db", db, "user1")
	require.NoError(t, err)
	assert.Contains(t, out, `replica:    "user1"`)
	assert.Contains(t, out, `document:   {"a":[1,2]}`)
	assert.Contains(t, out, "tombstones: 0")
	assert.NotContains(t, out, "snapshot:")
}

func TestInspect_NumericReplicaJSON(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, "inspect", "--db", db, "42", "--model", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   SnapshotView `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.JSONEq(t, `42`, string(resp.Data.Replica))
	assert.JSONEq(t, `["x"]`, string(resp.Data.Document))
	assert.Equal(t, 1, resp.Data.Tombstones)
	assert.Len(t, resp.Data.Digest, 64)
	require.NotNil(t, resp.Data.Snapshot)
	assert.Len(t, resp.Data.Snapshot.Tombstones, 1)
}

func TestInspect_MissingReplica(t *testing.T) {
	db := seedStore(t)

	_, err := execute(t, "inspect", "--db", db, "nobody")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "no such replica")
}

func TestInspect_Delete(t *testing.T) {
	db := seedStore(t)

	out, err := execute(t, "inspect", "--db", db, "user1", "--delete")
	require.NoError(t, err)
	assert.Equal(t, "deleted user1\n", out)

	_, err = execute(t, "inspect", "--db", db, "user1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestInspect_File(t *testing.T) {
	r, err := crdt.New(value.String("exported"), crdt.WithSeed(3))
	require.NoError(t, err)
	require.NoError(t, r.Update(value.MustParse(`{"k":true}`)))
	data, err := json.Marshal(r.Snapshot())
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(file, data, 0644))

	out, err := execute(t, "inspect", "--file", file)
	require.NoError(t, err)
	assert.Contains(t, out, `document:   {"k":true}`)

	_, err = execute(t, "inspect", "--file", file, "exported")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestInspect_RequiresSource(t *testing.T) {
	_, err := execute(t, "inspect")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestParseReplicaArg(t *testing.T) {
	tests := []struct {
		arg  string
		want value.Value
	}{
		{"user1", value.String("user1")},
		{"42", value.Number(42)},
		{"true", value.Bool(true)},
		{`"42"`, value.String("42")},
		{"[1]", value.String("[1]")},
	}
	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			assert.True(t, value.Equal(tt.want, ParseReplicaArg(tt.arg)))
		})
	}
}
