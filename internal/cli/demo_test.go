package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemo_Text(t *testing.T) {
	out, err := execute(t, "demo")
	require.NoError(t, err)

	assert.Contains(t, out, "== single\n")
	assert.Contains(t, out, "user1 model changed (1 datums)\n")
	assert.Contains(t, out, `user1 state: "first post!"`)
	assert.Contains(t, out, "user1 model changed (4 datums)\n")
	assert.Contains(t, out, `user1 state: ["first","middle","last"]`)
	assert.Contains(t, out, "user1 model changed (5 datums)\n")
	assert.Contains(t, out, `user1 state: ["first",{"pos":"middle"},"last"]`)

	assert.Contains(t, out, "== pair\n")
	assert.Contains(t, out, `user2 state: ["first","last"]`)
	assert.Contains(t, out, `user2 state: [2,3]`)
	assert.Contains(t, out, `user1 state: [[2],[3]]`)
	assert.Contains(t, out, `user2 state: [[2],[3]]`)
	assert.Contains(t, out, "converged\n")
}

func TestDemo_JSON(t *testing.T) {
	out, err := execute(t, "demo", "--format", "json", "--seed", "9")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   DemoResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Converged)

	// 3 model changes and 3 states, then 2 sets, a concurrent pair, 3 sets
	// and another concurrent pair.
	require.Len(t, resp.Data.Lines, 6+2+2+3+2)
	last := resp.Data.Lines[len(resp.Data.Lines)-1]
	assert.Equal(t, "pair", last.Script)
	assert.JSONEq(t, `[[2],[3]]`, string(last.Document))
}

func TestDemo_SameSeedSameOutput(t *testing.T) {
	first, err := execute(t, "demo", "--seed", "4")
	require.NoError(t, err)
	second, err := execute(t, "demo", "--seed", "4")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
