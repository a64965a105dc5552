package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/store"
	"github.com/roach88/jsoncrdt/internal/value"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	File     string
	Model    bool
	Delete   bool
}

// ReplicaRow is one saved snapshot in a listing.
type ReplicaRow struct {
	Replica    json.RawMessage `json:"replica"`
	NextSeq    int64           `json:"nextSeq"`
	Datums     int             `json:"datums"`
	Tombstones int             `json:"tombstones"`
	Digest     string          `json:"digest"`
}

// ReplicaList is the output of inspect without a replica argument.
type ReplicaList struct {
	Replicas []ReplicaRow `json:"replicas"`
}

// Text renders the listing as a table.
func (l ReplicaList) Text() string {
	if len(l.Replicas) == 0 {
		return "No snapshots.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-40s %8s %8s %10s  %s\n", "REPLICA", "NEXTSEQ", "DATUMS", "TOMBSTONES", "DIGEST")
	for _, r := range l.Replicas {
		fmt.Fprintf(&b, "%-40s %8d %8d %10d  %s\n", r.Replica, r.NextSeq, r.Datums, r.Tombstones, shortDigest(r.Digest))
	}
	return b.String()
}

// SnapshotView is the output of inspect for one snapshot.
type SnapshotView struct {
	Replica    json.RawMessage `json:"replica"`
	Empty      bool            `json:"empty"`
	Document   json.RawMessage `json:"document,omitempty"`
	Digest     string          `json:"digest,omitempty"`
	Datums     int             `json:"datums"`
	Tombstones int             `json:"tombstones"`
	Snapshot   *crdt.Snapshot  `json:"snapshot,omitempty"`
}

// Text renders the document, or the whole snapshot with --model.
func (v SnapshotView) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "replica:    %s\n", v.Replica)
	fmt.Fprintf(&b, "datums:     %d\n", v.Datums)
	fmt.Fprintf(&b, "tombstones: %d\n", v.Tombstones)
	if v.Empty {
		b.WriteString("document:   (empty)\n")
	} else {
		fmt.Fprintf(&b, "digest:     %s\n", v.Digest)
		fmt.Fprintf(&b, "document:   %s\n", v.Document)
	}
	if v.Snapshot != nil {
		data, err := json.MarshalIndent(v.Snapshot, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "snapshot:   <%v>\n", err)
		} else {
			fmt.Fprintf(&b, "snapshot:\n%s\n", data)
		}
	}
	return b.String()
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect [replica]",
		Short: "Show saved replica snapshots",
		Long: `Show what a snapshot store holds.

Without a replica argument, lists every saved snapshot. With one, projects
that replica's snapshot and prints the document and its digest; --model
adds the full snapshot (log and tombstones) and --delete removes it.
--file reads a snapshot exported as JSON (GET /model) instead of a store.

A replica argument that parses as a JSON scalar (42, true, "x") is used
as that value; anything else is taken as a string.

Examples:
  jsoncrdt inspect --db notes.db
  jsoncrdt inspect --db notes.db user1 --model
  jsoncrdt inspect --db postgres://localhost/jsoncrdt 42
  jsoncrdt inspect --file model.json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "SQLite path or postgres:// URL (default from config)")
	cmd.Flags().StringVar(&opts.File, "file", "", "snapshot JSON file")
	cmd.Flags().BoolVar(&opts.Model, "model", false, "include the full snapshot")
	cmd.Flags().BoolVar(&opts.Delete, "delete", false, "delete the replica's snapshot")

	return cmd
}

func runInspect(opts *InspectOptions, args []string, cmd *cobra.Command) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if opts.File != "" {
		if len(args) > 0 || opts.Delete {
			return NewExitError(ExitCommandError, "--file takes no replica argument and cannot --delete")
		}
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot file", err)
		}
		var snap crdt.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return WrapExitError(ExitCommandError, "invalid snapshot file", err)
		}
		view, err := viewSnapshot(snap, opts.Model)
		if err != nil {
			return WrapExitError(ExitFailure, "invalid snapshot", err)
		}
		return out.Success(view)
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.Database = opts.Database
	}
	if cfg.Database == "" {
		return NewExitError(ExitCommandError, "a database (--db or config) or --file is required")
	}

	st, err := store.OpenURL(ctx, cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if len(args) == 0 {
		if opts.Delete {
			return NewExitError(ExitCommandError, "--delete needs a replica argument")
		}
		summaries, err := st.Replicas(ctx)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to list snapshots", err)
		}
		list := ReplicaList{Replicas: make([]ReplicaRow, 0, len(summaries))}
		for _, s := range summaries {
			id, err := value.Marshal(s.Replica)
			if err != nil {
				return err
			}
			list.Replicas = append(list.Replicas, ReplicaRow{
				Replica:    id,
				NextSeq:    s.NextSeq,
				Datums:     s.Datums,
				Tombstones: s.Tombstones,
				Digest:     s.Digest,
			})
		}
		return out.Success(list)
	}

	id := ParseReplicaArg(args[0])
	if opts.Delete {
		if err := st.Delete(ctx, id); err != nil {
			return inspectLoadError(err)
		}
		return out.Success(fmt.Sprintf("deleted %s", describeID(id)))
	}

	snap, err := st.Load(ctx, id)
	if err != nil {
		return inspectLoadError(err)
	}
	view, err := viewSnapshot(snap, opts.Model)
	if err != nil {
		return WrapExitError(ExitFailure, "invalid snapshot", err)
	}
	return out.Success(view)
}

func inspectLoadError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitFailure, "no such replica", err)
	}
	return WrapExitError(ExitFailure, "failed to load snapshot", err)
}

// ParseReplicaArg reads a command-line replica id: a JSON scalar when the
// argument parses as one, else the argument as a string.
func ParseReplicaArg(arg string) value.Value {
	if v, err := value.Parse([]byte(arg)); err == nil && value.IsScalar(v) {
		return v
	}
	return value.String(arg)
}

// viewSnapshot projects snap by restoring it into a scratch replica.
func viewSnapshot(snap crdt.Snapshot, withModel bool) (SnapshotView, error) {
	r, err := crdt.Restore(snap)
	if err != nil {
		return SnapshotView{}, err
	}
	id, err := value.Marshal(snap.Replica)
	if err != nil {
		return SnapshotView{}, err
	}
	st := r.State()
	view := SnapshotView{
		Replica:    id,
		Empty:      st.Empty,
		Datums:     len(st.Model),
		Tombstones: len(r.Tombstones()),
	}
	if !st.Empty {
		if view.Document, err = value.Marshal(st.JSON); err != nil {
			return SnapshotView{}, err
		}
		if view.Digest, err = r.Digest(); err != nil {
			return SnapshotView{}, err
		}
	}
	if withModel {
		view.Snapshot = &snap
	}
	return view, nil
}
