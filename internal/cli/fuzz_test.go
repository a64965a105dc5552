package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuzz_Converges(t *testing.T) {
	out, err := execute(t, "fuzz", "--seed", "3", "--rounds", "5", "--replicas", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "round 5:")
	assert.Contains(t, out, "✓ 3 replicas converged over 5 rounds (seed 3)")
}

func TestFuzz_Sequential(t *testing.T) {
	out, err := execute(t, "fuzz", "--seed", "8", "--rounds", "4", "--replicas", "4", "--sequential", "--duplicates", "0")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 4 replicas converged over 4 rounds (seed 8)")
}

func TestFuzz_JSON(t *testing.T) {
	out, err := execute(t, "fuzz", "--seed", "11", "--rounds", "3", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   FuzzResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Converged)
	assert.Equal(t, uint64(11), resp.Data.Seed)
	require.Len(t, resp.Data.Rounds, 3)
	for _, r := range resp.Data.Rounds {
		assert.True(t, r.Converged)
		assert.Positive(t, r.Delivered)
		assert.GreaterOrEqual(t, r.Edits, 3)
		assert.LessOrEqual(t, r.Edits, 9)
	}
}

func TestFuzz_SeveralEditsPerRound(t *testing.T) {
	out, err := execute(t, "fuzz", "--seed", "21", "--rounds", "6", "--replicas", "4", "--edits", "5", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data FuzzResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Converged)

	several := false
	for _, r := range resp.Data.Rounds {
		assert.GreaterOrEqual(t, r.Edits, 4)
		assert.LessOrEqual(t, r.Edits, 20)
		if r.Edits > 4 {
			several = true
		}
	}
	assert.True(t, several, "no replica made more than one edit in a round")
}

func TestFuzz_SingleEditPerRound(t *testing.T) {
	out, err := execute(t, "fuzz", "--seed", "4", "--rounds", "3", "--replicas", "3", "--edits", "1", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Data FuzzResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	for _, r := range resp.Data.Rounds {
		assert.Equal(t, 3, r.Edits)
	}
}

func TestFuzz_Deterministic(t *testing.T) {
	first, err := execute(t, "fuzz", "--seed", "5", "--rounds", "4")
	require.NoError(t, err)
	second, err := execute(t, "fuzz", "--seed", "5", "--rounds", "4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFuzz_InvalidArguments(t *testing.T) {
	tests := [][]string{
		{"fuzz", "--replicas", "1"},
		{"fuzz", "--rounds", "0"},
		{"fuzz", "--duplicates", "1"},
		{"fuzz", "--variation", "-0.5"},
		{"fuzz", "--edits", "0"},
	}
	for _, args := range tests {
		_, err := execute(t, args...)
		require.Error(t, err, "%v", args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), "%v", args)
	}
}

func TestFuzzResult_Text(t *testing.T) {
	r := FuzzResult{
		Seed:     2,
		Replicas: 3,
		Rounds: []FuzzRound{
			{Round: 1, Edits: 4, Delivered: 12, Converged: true, Digest: "0123456789abcdef"},
			{Round: 2, Edits: 3, Delivered: 9, Converged: false},
		},
	}
	assert.Equal(t,
		"round 1: 4 edits, 12 deliveries, converged 0123456789ab\nround 2: 3 edits, 9 deliveries, DIVERGED \n✗ replicas diverged (seed 2)\n",
		r.Text())
}
