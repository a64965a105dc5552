package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/config"
	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/discovery"
	"github.com/roach88/jsoncrdt/internal/httpapi"
	"github.com/roach88/jsoncrdt/internal/store"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/transport/wsconn"
	"github.com/roach88/jsoncrdt/internal/value"
)

// discoveryTimeout bounds the mDNS search for a relay.
const discoveryTimeout = 10 * time.Second

// PeerOptions holds flags for the peer command.
type PeerOptions struct {
	*RootOptions
	Replica  string
	Database string
	Relay    string
	Room     string
	Autosave int
	HTTP     string
	Discover bool
}

// NewPeerCommand creates the peer command.
func NewPeerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PeerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "peer",
		Short: "Run a replica that syncs through a relay",
		Long: `Run a long-lived replica.

The replica joins a relay room and stays in sync with every other replica
in the room, reconnecting with backoff when the relay goes away. With --db
its state is restored at start and saved periodically and on exit; the
database is a SQLite path or a postgres:// URL. With --http the document
is readable and writable over HTTP (GET/PUT /state).

Without --relay the peer looks for a relay over mDNS when discovery is
enabled, and otherwise runs standalone. Flags override the config file.

Example:
  jsoncrdt peer --relay ws://localhost:8080 --room notes --db notes.db --http :8081
  jsoncrdt peer --config peer.cue --discover`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPeer(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Replica, "replica", "", "replica id (default from config, else a new UUIDv7)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite path or postgres:// URL for snapshots")
	cmd.Flags().StringVar(&opts.Relay, "relay", "", "relay base URL, e.g. ws://localhost:8080")
	cmd.Flags().StringVar(&opts.Room, "room", "", "relay room (default from config, \"default\")")
	cmd.Flags().IntVar(&opts.Autosave, "autosave", 0, "seconds between snapshot saves, 0 saves on exit only")
	cmd.Flags().StringVar(&opts.HTTP, "http", "", "serve the document API on this address")
	cmd.Flags().BoolVar(&opts.Discover, "discover", false, "find a relay over mDNS when --relay is unset")

	return cmd
}

// applyPeerFlags overrides config values with the flags that were set.
func applyPeerFlags(opts *PeerOptions, cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("replica") {
		cfg.Replica = value.String(opts.Replica)
	}
	if flags.Changed("db") {
		cfg.Database = opts.Database
	}
	if flags.Changed("relay") {
		cfg.Peer.Relay = opts.Relay
	}
	if flags.Changed("room") {
		cfg.Peer.Room = opts.Room
	}
	if flags.Changed("autosave") {
		cfg.Peer.Autosave = opts.Autosave
	}
	if flags.Changed("http") {
		cfg.Peer.HTTP = opts.HTTP
	}
	if flags.Changed("discover") {
		cfg.Discovery.Enabled = opts.Discover
	}
}

func runPeer(opts *PeerOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	applyPeerFlags(opts, cmd, &cfg)
	if cfg.Peer.Autosave < 0 {
		return NewExitError(ExitCommandError, "autosave must not be negative")
	}
	if cfg.Replica == nil {
		cfg.Replica = value.String(opts.ids().Generate())
	}

	logger := opts.newLogger(cmd, cfg.Log.Level)
	ctx, stop := signalContext(cmd)
	defer stop()

	p := &peer{cfg: cfg, logger: logger}
	if err := p.open(ctx); err != nil {
		return err
	}
	defer p.close()

	fmt.Fprintf(cmd.OutOrStdout(), "Replica %s ready. Press Ctrl-C to stop.\n", describeID(cfg.Replica))

	errc := make(chan error, 2)
	if cfg.Peer.HTTP != "" {
		ln, err := net.Listen("tcp", cfg.Peer.HTTP)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to listen", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Document API on http://%s\n", ln.Addr())
		go func() { errc <- p.serveHTTP(ctx, ln) }()
	}

	url, err := p.relayURL(ctx)
	if err != nil {
		return err
	}
	if url != "" {
		go p.syncLoop(ctx, url)
	}
	if p.store != nil && cfg.Peer.Autosave > 0 {
		go p.autosave(ctx, time.Duration(cfg.Peer.Autosave)*time.Second)
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		if err != nil {
			return WrapExitError(ExitFailure, "document API failed", err)
		}
	}
	logger.Info("peer stopping", "replica", cfg.Replica)
	return nil
}

// peer is the running state of the peer command.
type peer struct {
	cfg    config.Config
	logger *slog.Logger
	store  store.Snapshots
	node   *transport.Node
	dirty  atomic.Bool
}

// open restores the replica from the store, or creates it.
func (p *peer) open(ctx context.Context) error {
	var replica *crdt.Replica
	if p.cfg.Database != "" {
		st, err := store.OpenURL(ctx, p.cfg.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		p.store = st

		snap, err := st.Load(ctx, p.cfg.Replica)
		switch {
		case errors.Is(err, store.ErrNotFound):
			p.logger.Info("no snapshot, starting empty", "replica", p.cfg.Replica)
		case err != nil:
			return WrapExitError(ExitCommandError, "failed to load snapshot", err)
		default:
			replica, err = crdt.Restore(snap, crdt.WithLogger(p.logger))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to restore snapshot", err)
			}
			p.logger.Info("snapshot restored", "replica", p.cfg.Replica, "datums", len(snap.Model), "tombstones", len(snap.Tombstones))
		}
	}
	if replica == nil {
		r, err := crdt.New(p.cfg.Replica, crdt.WithLogger(p.logger))
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid replica id", err)
		}
		replica = r
	}

	p.node = transport.NewNode(replica, transport.WithLogger(p.logger))
	p.node.OnChange(func([]crdt.Datum, value.Value) { p.dirty.Store(true) })
	return nil
}

// close saves a final snapshot and releases the store.
func (p *peer) close() {
	p.node.Close()
	if p.store == nil {
		return
	}
	if err := p.save(context.Background()); err != nil {
		p.logger.Error("final save failed", "error", err)
	}
	if err := p.store.Close(); err != nil {
		p.logger.Error("error closing database", "error", err)
	}
}

func (p *peer) save(ctx context.Context) error {
	if !p.dirty.Swap(false) {
		return nil
	}
	snap := p.node.Snapshot()
	if err := p.store.Save(ctx, snap); err != nil {
		p.dirty.Store(true)
		return err
	}
	p.logger.Debug("snapshot saved", "replica", snap.Replica, "datums", len(snap.Model), "tombstones", len(snap.Tombstones))
	return nil
}

func (p *peer) autosave(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.save(ctx); err != nil {
				p.logger.Warn("autosave failed", "error", err)
			}
		}
	}
}

// relayURL returns the room URL to join, or "" to run standalone.
func (p *peer) relayURL(ctx context.Context) (string, error) {
	base := p.cfg.Peer.Relay
	if base == "" && p.cfg.Discovery.Enabled {
		dctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
		defer cancel()
		found, err := discovery.First(dctx,
			discovery.WithService(p.cfg.Discovery.Service),
			discovery.WithDomain(p.cfg.Discovery.Domain),
			discovery.WithLogger(p.logger),
		)
		if err != nil {
			return "", WrapExitError(ExitCommandError, "no relay found", err)
		}
		p.logger.Info("relay discovered", "instance", found.Instance, "url", found.URL())
		base = found.URL()
	}
	if base == "" {
		p.logger.Info("no relay configured, running standalone")
		return "", nil
	}
	return RoomURL(base, p.cfg.Peer.Room), nil
}

// RoomURL joins a relay base URL and a room name.
func RoomURL(base, room string) string {
	return strings.TrimRight(base, "/") + "/" + room
}

// syncLoop keeps one relay connection open until ctx is done.
func (p *peer) syncLoop(ctx context.Context, url string) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	b.MaxInterval = 30 * time.Second

	for ctx.Err() == nil {
		conn, err := wsconn.Dial(ctx, url, wsconn.WithLogger(p.logger))
		if err == nil {
			p.logger.Info("connected to relay", "url", url)
			b.Reset()
			err = conn.Serve(ctx, p.node)
			if ctx.Err() != nil {
				return
			}
		}
		wait := b.NextBackOff()
		p.logger.Warn("relay connection lost", "url", url, "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

func (p *peer) serveHTTP(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           httpapi.NewServer(p.node, httpapi.WithLogger(p.logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// describeID renders a replica id for humans: strings bare, other scalars
// as JSON.
func describeID(id value.Value) string {
	if s, ok := id.(value.String); ok {
		return string(s)
	}
	data, err := value.Marshal(id)
	if err != nil {
		return fmt.Sprintf("%v", id)
	}
	return string(data)
}
