package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCommand_Defaults(t *testing.T) {
	out, err := execute(t, "config", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Peer struct {
				Room string `json:"room"`
			} `json:"peer"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "default", resp.Data.Peer.Room)
}

func TestConfigCommand_ValidFile(t *testing.T) {
	out, err := execute(t, "config", "../config/testdata/peer.cue")
	require.NoError(t, err)
	assert.Contains(t, out, `"replica": "laptop"`)
	assert.Contains(t, out, `"room": "notes"`)
}

func TestConfigCommand_GlobalFlag(t *testing.T) {
	out, err := execute(t, "config", "--config", "../config/testdata/relay.toml")
	require.NoError(t, err)
	assert.Contains(t, out, `"listen": ":9000"`)
}

func TestConfigCommand_InvalidFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(file, []byte("peer:\n  autosave: -1\n"), 0644))

	out, err := execute(t, "config", file)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E_CONFIG]")
}
