package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/roach88/jsoncrdt/internal/crdt"
	"github.com/roach88/jsoncrdt/internal/store"
	"github.com/roach88/jsoncrdt/internal/transport"
	"github.com/roach88/jsoncrdt/internal/transport/local"
	"github.com/roach88/jsoncrdt/internal/value"
)

// Harness executes one scenario. Each run owns a fresh network and a fresh
// in-memory store.
type Harness struct {
	scenario *Scenario
	network  *local.Network
	store    *store.Store
	nodes    map[string]*transport.Node
	links    map[[2]string]*local.Link
	restarts map[string]uint64
	logger   *slog.Logger
}

// Option configures a run.
type Option func(*Harness)

// WithLogger sets the run logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		if l != nil {
			h.logger = l
		}
	}
}

// Run executes a scenario and returns the result.
//
// Steps run in order. A step that fails to execute (a rejected set, a
// delivery error) aborts the run with an error; assertion failures are
// reported in the result instead.
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		nodes:    make(map[string]*transport.Node, len(scenario.Replicas)),
		links:    make(map[[2]string]*local.Link),
		restarts: make(map[string]uint64),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}

	netOpts := []local.Option{local.WithLogger(h.logger)}
	if scenario.Shuffle {
		netOpts = append(netOpts, local.WithShuffle(scenario.Seed))
	}
	if scenario.Duplicates > 0 {
		netOpts = append(netOpts, local.WithDuplicates(scenario.Duplicates, scenario.Seed))
	}
	h.network = local.NewNetwork(netOpts...)

	for _, id := range scenario.Replicas {
		r, err := crdt.New(value.String(id), h.replicaOptions(id)...)
		if err != nil {
			return nil, fmt.Errorf("replica %s: %w", id, err)
		}
		h.nodes[id] = transport.NewNode(r, transport.WithLogger(h.logger))
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		ev.Step = i
		ev.Documents = h.documents()
		result.AddStep(ev)
	}

	for _, id := range scenario.Replicas {
		digest, err := h.nodes[id].Digest()
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", id, err)
		}
		result.Digests[id] = digest
	}

	for _, assertion := range scenario.Assertions {
		if err := h.check(assertion); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

// replicaOptions derives a deterministic allocator seed from the scenario
// seed, the replica's position and how often it has restarted.
func (h *Harness) replicaOptions(id string) []crdt.Option {
	pos := uint64(slices.Index(h.scenario.Replicas, id))
	seed := h.scenario.Seed*100 + pos + 1 + h.restarts[id]*1000
	return []crdt.Option{crdt.WithSeed(seed), crdt.WithLogger(h.logger)}
}

func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	switch {
	case step.Set != nil:
		doc, err := nodeValue(&step.Set.JSON)
		if err != nil {
			return TraceEvent{}, err
		}
		if err := h.nodes[step.Set.Replica].Update(doc); err != nil {
			return TraceEvent{}, fmt.Errorf("set %s: %w", step.Set.Replica, err)
		}
		return TraceEvent{Op: "set", Replicas: []string{step.Set.Replica}}, nil

	case step.Connect != nil:
		key := linkKey(step.Connect[0], step.Connect[1])
		if err := h.connect(key); err != nil {
			return TraceEvent{}, err
		}
		return TraceEvent{Op: "connect", Replicas: key[:]}, nil

	case step.Disconnect != nil:
		key := linkKey(step.Disconnect[0], step.Disconnect[1])
		link, ok := h.links[key]
		if !ok {
			return TraceEvent{}, fmt.Errorf("disconnect: %s and %s are not connected", key[0], key[1])
		}
		delete(h.links, key)
		if err := link.Close(); err != nil {
			return TraceEvent{}, fmt.Errorf("disconnect: %w", err)
		}
		return TraceEvent{Op: "disconnect", Replicas: key[:]}, nil

	case step.Flush:
		n, err := h.network.Flush()
		if err != nil {
			return TraceEvent{}, fmt.Errorf("flush: %w", err)
		}
		h.logger.Debug("flushed", "delivered", n)
		return TraceEvent{Op: "flush", Delivered: n}, nil

	case step.Restart != "":
		if err := h.restart(ctx, step.Restart); err != nil {
			return TraceEvent{}, err
		}
		return TraceEvent{Op: "restart", Replicas: []string{step.Restart}}, nil
	}
	return TraceEvent{}, fmt.Errorf("empty step")
}

func (h *Harness) connect(key [2]string) error {
	if _, ok := h.links[key]; ok {
		return fmt.Errorf("connect: %s and %s are already connected", key[0], key[1])
	}
	link, err := h.network.Connect(h.nodes[key[0]], h.nodes[key[1]])
	if err != nil {
		return err
	}
	h.links[key] = link
	return nil
}

// restart round-trips a replica through the store. Its links are closed
// before the restore and re-established afterwards, so peers exchange
// complete state with the restored replica on the next flush.
func (h *Harness) restart(ctx context.Context, id string) error {
	node := h.nodes[id]
	if err := h.store.Save(ctx, node.Snapshot()); err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}

	var peers [][2]string
	for key, link := range h.links {
		if key[0] != id && key[1] != id {
			continue
		}
		peers = append(peers, key)
		delete(h.links, key)
		if err := link.Close(); err != nil {
			return fmt.Errorf("restart %s: %w", id, err)
		}
	}
	slices.SortFunc(peers, func(a, b [2]string) int {
		return slices.Compare(a[:], b[:])
	})

	snap, err := h.store.Load(ctx, value.String(id))
	if err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	h.restarts[id]++
	r, err := crdt.Restore(snap, h.replicaOptions(id)...)
	if err != nil {
		return fmt.Errorf("restart %s: %w", id, err)
	}
	h.nodes[id] = transport.NewNode(r, transport.WithLogger(h.logger))

	for _, key := range peers {
		if err := h.connect(key); err != nil {
			return fmt.Errorf("restart %s: %w", id, err)
		}
	}
	return nil
}

// documents returns the document of every non-empty replica.
func (h *Harness) documents() map[string]value.Value {
	docs := make(map[string]value.Value)
	for id, node := range h.nodes {
		if st := node.State(); !st.Empty {
			docs[id] = st.JSON
		}
	}
	return docs
}

func linkKey(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}
