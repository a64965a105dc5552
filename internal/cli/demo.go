package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/transport/local"
	"github.com/roach88/jsoncrdt/internal/value"
)

// DemoOptions holds flags for the demo command.
type DemoOptions struct {
	*RootOptions
	Seed uint64
}

// DemoLine is one printed state of the demo.
type DemoLine struct {
	Script   string          `json:"script"`
	Replica  string          `json:"replica"`
	Event    string          `json:"event"`
	Document json.RawMessage `json:"document,omitempty"`
	Datums   int             `json:"datums,omitempty"`
}

// DemoResult is everything the demo printed, in order.
type DemoResult struct {
	Lines     []DemoLine `json:"lines"`
	Converged bool       `json:"converged"`
}

// Text renders the demo as one line per state.
func (r DemoResult) Text() string {
	var b strings.Builder
	script := ""
	for _, l := range r.Lines {
		if l.Script != script {
			script = l.Script
			fmt.Fprintf(&b, "== %s\n", script)
		}
		switch {
		case l.Document != nil:
			fmt.Fprintf(&b, "%s %s: %s\n", l.Replica, l.Event, l.Document)
		default:
			fmt.Fprintf(&b, "%s %s (%d datums)\n", l.Replica, l.Event, l.Datums)
		}
	}
	if r.Converged {
		b.WriteString("converged\n")
	}
	return b.String()
}

// NewDemoCommand creates the demo command.
func NewDemoCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DemoOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the scripted single-replica and two-replica demos",
		Long: `Run two scripted sessions and print every document state.

The first edits a single replica: a string, then an array, then an array
with a nested object. The second links two replicas in process, edits
each side in turn, then makes concurrent edits on both sides and checks
that they converge.

Example:
  jsoncrdt demo
  jsoncrdt demo --seed 7 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "allocator seed")

	return cmd
}

type demo struct {
	opts   *DemoOptions
	script string
	result DemoResult
}

func (d *demo) print(replica string, doc value.Value) error {
	data, err := value.Marshal(doc)
	if err != nil {
		return err
	}
	d.result.Lines = append(d.result.Lines, DemoLine{
		Script:   d.script,
		Replica:  replica,
		Event:    "state",
		Document: data,
	})
	return nil
}

func runDemo(opts *DemoOptions, cmd *cobra.Command) error {
	d := &demo{opts: opts}
	out := opts.formatter(cmd)

	if err := d.single(cmd); err != nil {
		return WrapExitError(ExitFailure, "single-replica demo failed", err)
	}
	if err := d.pair(cmd); err != nil {
		return WrapExitError(ExitFailure, "two-replica demo failed", err)
	}
	if !d.result.Converged {
		return out.Failure("E_DIVERGED", "replicas did not converge", d.result)
	}
	return out.Success(d.result)
}

// single edits one replica and reports every model change.
func (d *demo) single(cmd *cobra.Command) error {
	d.script = "single"
	r, err := crdt.New(value.String("user1"),
		crdt.WithSeed(d.opts.Seed),
		crdt.WithLogger(d.opts.quietLogger(cmd)),
	)
	if err != nil {
		return err
	}
	r.AddListener(func(model []crdt.Datum, _ value.Value) {
		d.result.Lines = append(d.result.Lines, DemoLine{
			Script:  d.script,
			Replica: "user1",
			Event:   "model changed",
			Datums:  len(model),
		})
	})

	for _, doc := range []string{
		`"first post!"`,
		`["first","middle","last"]`,
		`["first",{"pos":"middle"},"last"]`,
	} {
		state := r.State()
		if err := r.SetState(state.Model, value.MustParse(doc)); err != nil {
			return err
		}
		if err := d.print("user1", r.State().JSON); err != nil {
			return err
		}
	}
	return nil
}

// pair links two replicas in process. Every edit is delivered before the
// next one except the two concurrent pairs.
func (d *demo) pair(cmd *cobra.Command) error {
	d.script = "pair"
	logger := d.opts.quietLogger(cmd)
	net := local.NewNetwork(local.WithLogger(logger))

	newNode := func(id string, seed uint64) (*transport.Node, error) {
		r, err := crdt.New(value.String(id), crdt.WithSeed(seed), crdt.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return transport.NewNode(r, transport.WithLogger(logger)), nil
	}
	s1, err := newNode("user1", d.opts.Seed)
	if err != nil {
		return err
	}
	s2, err := newNode("user2", d.opts.Seed+1)
	if err != nil {
		return err
	}
	if _, err := net.Connect(s1, s2); err != nil {
		return err
	}

	names := map[*transport.Node]string{s1: "user1", s2: "user2"}
	set := func(n *transport.Node, doc string) error {
		if err := n.Update(value.MustParse(doc)); err != nil {
			return err
		}
		return d.print(names[n], n.State().JSON)
	}
	flush := func() error {
		_, err := net.Flush()
		return err
	}

	for _, step := range []struct {
		node *transport.Node
		doc  string
	}{
		{s1, `"first post!"`},
		{s2, `["first","last"]`},
	} {
		if err := set(step.node, step.doc); err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
	}

	converged := true
	concurrent := func(doc1, doc2 string) error {
		if err := s1.Update(value.MustParse(doc1)); err != nil {
			return err
		}
		if err := s2.Update(value.MustParse(doc2)); err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
		if err := d.print("user1", s1.State().JSON); err != nil {
			return err
		}
		if err := d.print("user2", s2.State().JSON); err != nil {
			return err
		}
		converged = converged && value.Equal(s1.State().JSON, s2.State().JSON)
		return nil
	}

	if err := concurrent(`["first","middle1","last"]`, `["first","middle2","last"]`); err != nil {
		return err
	}
	for _, step := range []struct {
		node *transport.Node
		doc  string
	}{
		{s1, `["first"]`},
		{s1, `[1,2,3]`},
		{s2, `[2,3]`},
	} {
		if err := set(step.node, step.doc); err != nil {
			return err
		}
		if err := flush(); err != nil {
			return err
		}
	}
	if err := concurrent(`[2,[3]]`, `[[2],3]`); err != nil {
		return err
	}

	d.result.Converged = converged
	return nil
}
