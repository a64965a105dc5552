package cli

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/relay"
	"github.com/roach88/jsoncrdt/internal/store"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/transport/wsconn"
	"github.com/roach88/jsoncrdt/internal/value"
)

func TestPeerCommand_SyncsAndSaves(t *testing.T) {
	srv := relay.New()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	base := "ws" + strings.TrimPrefix(ts.URL, "http")

	r, err := crdt.New(value.String("other"), crdt.WithSeed(9))
	require.NoError(t, err)
	other := transport.NewNode(r)
	require.NoError(t, other.Update(value.MustParse(`{"todo":["milk","eggs"]}`)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := wsconn.Dial(ctx, RoomURL(base, "r"))
	require.NoError(t, err)
	go conn.Serve(ctx, other)
	require.Eventually(t, func() bool { return srv.Clients("r") == 1 }, 2*time.Second, 10*time.Millisecond)

	db := filepath.Join(t.TempDir(), "peer.db")
	stop := startCommand(t, "peer",
		"--relay", base, "--room", "r", "--db", db, "--replica", "p1", "--autosave", "1")

	want, err := other.Digest()
	require.NoError(t, err)
	// Let the peer create the database before polling it.
	time.Sleep(300 * time.Millisecond)
	require.Eventually(t, func() bool {
		st, err := store.Open(db)
		if err != nil {
			return false
		}
		defer st.Close()
		snap, err := st.Load(context.Background(), value.String("p1"))
		if err != nil {
			return false
		}
		got, err := snap.Digest()
		return err == nil && got == want
	}, 10*time.Second, 100*time.Millisecond, "peer never saved the synced document")

	out, err := stop()
	require.NoError(t, err)
	assert.Contains(t, out, "Replica p1 ready.")
}

func TestPeerCommand_Standalone(t *testing.T) {
	stop := startCommand(t, "peer", "--replica", "solo", "--http", "127.0.0.1:0")
	time.Sleep(200 * time.Millisecond)

	out, err := stop()
	require.NoError(t, err)
	assert.Contains(t, out, "Replica solo ready.")
	assert.Contains(t, out, "Document API on http://127.0.0.1:")
}

func TestPeerCommand_NegativeAutosave(t *testing.T) {
	_, err := execute(t, "peer", "--autosave", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoomURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/notes", RoomURL("ws://localhost:8080", "notes"))
	assert.Equal(t, "ws://localhost:8080/notes", RoomURL("ws://localhost:8080/", "notes"))
}

func TestDescribeID(t *testing.T) {
	assert.Equal(t, "user1", describeID(value.String("user1")))
	assert.Equal(t, "42", describeID(value.Number(42)))
	assert.Equal(t, "null", describeID(value.Null{}))
}
