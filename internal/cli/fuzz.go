package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/testutil"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/transport/local"
	"github.com/roach88/jsoncrdt/internal/value"
)

// FuzzOptions holds flags for the fuzz command.
type FuzzOptions struct {
	*RootOptions
	Seed       uint64
	Rounds     int
	Replicas   int
	Edits      int
	Variation  float64
	Duplicates float64
	Sequential bool
}

// FuzzRound is the outcome of one round.
type FuzzRound struct {
	Round     int    `json:"round"`
	Edits     int    `json:"edits"`
	Delivered int    `json:"delivered"`
	Converged bool   `json:"converged"`
	Digest    string `json:"digest,omitempty"`
}

// FuzzResult summarises a fuzz run.
type FuzzResult struct {
	Seed      uint64      `json:"seed"`
	Replicas  int         `json:"replicas"`
	Rounds    []FuzzRound `json:"rounds"`
	Converged bool        `json:"converged"`
	Document  string      `json:"document,omitempty"`
}

// Text renders one line per round and the final verdict.
func (r FuzzResult) Text() string {
	var b strings.Builder
	for _, round := range r.Rounds {
		status := "converged"
		if !round.Converged {
			status = "DIVERGED"
		}
		fmt.Fprintf(&b, "round %d: %d edits, %d deliveries, %s %s\n", round.Round, round.Edits, round.Delivered, status, shortDigest(round.Digest))
	}
	if r.Converged {
		fmt.Fprintf(&b, "✓ %d replicas converged over %d rounds (seed %d)\n", r.Replicas, len(r.Rounds), r.Seed)
	} else {
		fmt.Fprintf(&b, "✗ replicas diverged (seed %d)\n", r.Seed)
	}
	return b.String()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// NewFuzzCommand creates the fuzz command.
func NewFuzzCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FuzzOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fuzz",
		Short: "Edit random documents on many replicas and check convergence",
		Long: `Run randomized convergence rounds.

Replicas are linked in a full mesh over an in-process network that
shuffles delivery order and duplicates messages. The first replica starts
from a random document. In every round each replica makes between one and
--edits successive edits, each replacing its document with a random
variation of what it currently sees. Edits on different replicas are
concurrent. Then the network is flushed and every replica must project the same
document. The same seed always replays the same run.

Exit codes:
  0 - All rounds converged
  1 - Replicas diverged
  2 - Command error

Example:
  jsoncrdt fuzz --seed 42 --rounds 100 --replicas 5 --edits 4`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(opts, cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")
	cmd.Flags().IntVar(&opts.Rounds, "rounds", 20, "number of edit rounds")
	cmd.Flags().IntVar(&opts.Replicas, "replicas", 3, "number of replicas")
	cmd.Flags().IntVar(&opts.Edits, "edits", 3, "maximum edits per replica per round")
	cmd.Flags().Float64Var(&opts.Variation, "variation", 0.2, "per-element variation probability")
	cmd.Flags().Float64Var(&opts.Duplicates, "duplicates", 0.1, "probability of delivering a message twice")
	cmd.Flags().BoolVar(&opts.Sequential, "sequential", false, "flush after every single edit instead of once per round")

	return cmd
}

func runFuzz(opts *FuzzOptions, cmd *cobra.Command) error {
	if opts.Replicas < 2 {
		return NewExitError(ExitCommandError, "fuzz needs at least 2 replicas")
	}
	if opts.Rounds < 1 {
		return NewExitError(ExitCommandError, "fuzz needs at least 1 round")
	}
	if opts.Edits < 1 {
		return NewExitError(ExitCommandError, "fuzz needs at least 1 edit per round")
	}
	if opts.Variation < 0 || opts.Variation >= 1 || opts.Duplicates < 0 || opts.Duplicates >= 1 {
		return NewExitError(ExitCommandError, "probabilities must be in [0, 1)")
	}

	logger := opts.quietLogger(cmd)
	out := opts.formatter(cmd)
	gen := testutil.NewGenerator(opts.Seed)
	net := local.NewNetwork(
		local.WithShuffle(opts.Seed),
		local.WithDuplicates(opts.Duplicates, opts.Seed),
		local.WithLogger(logger),
	)

	nodes := make([]*transport.Node, opts.Replicas)
	for i := range nodes {
		r, err := crdt.New(value.String(fmt.Sprintf("user%d", i)),
			crdt.WithSeed(opts.Seed*1000+uint64(i)),
			crdt.WithLogger(logger),
		)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create replica", err)
		}
		nodes[i] = transport.NewNode(r, transport.WithLogger(logger))
	}
	for i := range nodes {
		for j := i + 1; j < len(nodes); j++ {
			if _, err := net.Connect(nodes[i], nodes[j]); err != nil {
				return WrapExitError(ExitCommandError, "failed to link replicas", err)
			}
		}
	}

	result := FuzzResult{Seed: opts.Seed, Replicas: opts.Replicas, Converged: true}
	if err := nodes[0].Update(gen.JSON(testutil.DefaultAlpha)); err != nil {
		return WrapExitError(ExitFailure, "initial edit failed", err)
	}
	if _, err := net.Flush(); err != nil {
		return WrapExitError(ExitFailure, "delivery failed", err)
	}

	for round := 1; round <= opts.Rounds; round++ {
		delivered, edits := 0, 0
		for _, n := range nodes {
			for e := 1 + gen.Rand().IntN(opts.Edits); e > 0; e-- {
				if err := n.Update(gen.Vary(n.State().JSON, opts.Variation)); err != nil {
					return WrapExitError(ExitFailure, fmt.Sprintf("round %d: edit failed", round), err)
				}
				edits++
				if opts.Sequential {
					d, err := net.Flush()
					if err != nil {
						return WrapExitError(ExitFailure, fmt.Sprintf("round %d: delivery failed", round), err)
					}
					delivered += d
				}
			}
		}
		d, err := net.Flush()
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("round %d: delivery failed", round), err)
		}
		delivered += d

		digest, converged, err := digests(nodes)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("round %d", round), err)
		}
		logger.Debug("round done", "round", round, "edits", edits, "delivered", delivered, "converged", converged)
		result.Rounds = append(result.Rounds, FuzzRound{
			Round:     round,
			Edits:     edits,
			Delivered: delivered,
			Converged: converged,
			Digest:    digest,
		})
		if !converged {
			result.Converged = false
			return out.Failure("E_DIVERGED", fmt.Sprintf("replicas diverged in round %d", round), result)
		}
	}

	if st := nodes[0].State(); !st.Empty {
		doc, err := value.Marshal(st.JSON)
		if err != nil {
			return err
		}
		result.Document = string(doc)
	}
	return out.Success(result)
}

// digests reports the common digest of nodes, or converged=false.
func digests(nodes []*transport.Node) (string, bool, error) {
	first, err := nodes[0].Digest()
	if err != nil {
		return "", false, err
	}
	for _, n := range nodes[1:] {
		d, err := n.Digest()
		if err != nil {
			return "", false, err
		}
		if d != first {
			return "", false, nil
		}
	}
	return first, true, nil
}
