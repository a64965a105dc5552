package crdt

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

// Batch is the unit handed to a transport: datums and tombstones a peer
// must apply to catch up. Its JSON form is the payload of an update
// message.
type Batch struct {
	Datums     []Datum      `json:"data"`
	Tombstones []Identifier `json:"tombstones"`
}

// Emitter receives locally originated batches for broadcast. Emit is called
// synchronously from Apply and must not call back into the replica.
type Emitter interface {
	Emit(Batch)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Batch)

// Emit calls f(b).
func (f EmitterFunc) Emit(b Batch) { f(b) }

// Listener is notified after every state change with private copies of the
// pruned model and the projected document.
type Listener func(model []Datum, doc value.Value)

// ListenerID identifies a registered listener for RemoveListener.
type ListenerID uint64

// State is a copy of a replica's current state.
type State struct {
	// Model is the pruned datum log.
	Model []Datum

	// JSON is the projected document; value.Null{} when Empty.
	JSON value.Value

	// Empty is true when no root datum survives.
	Empty bool
}

// Replica is one participant's copy of the shared document.
//
// CRITICAL: a Replica is single-writer. Apply, SetState and EmitCompleteState
// must not run concurrently; wrap the replica (see transport.Node) when
// several goroutines feed it.
//
// INVARIANTS:
//   - the log holds exactly the datums reachable in the current projection
//   - tombstones only grow
//   - a failed Apply or SetState leaves state untouched
type Replica struct {
	id     value.Value
	clock  *Clock
	alloc  *lseq.Allocator
	synth  *Synthesizer
	differ *Differ

	log        *Log
	tombstones *Tombstones
	doc        value.Value
	empty      bool

	emitter      Emitter
	listeners    []listenerEntry
	nextListener ListenerID
	notifying    bool

	logger *slog.Logger
}

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// Option configures a Replica.
type Option func(*Replica)

// WithLogger sets the logger for apply and emit events.
// Default: a logger that discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replica) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAllocator sets the fractional index allocator.
// Default: an allocator seeded from the runtime's random source.
func WithAllocator(a *lseq.Allocator) Option {
	return func(r *Replica) {
		if a != nil {
			r.alloc = a
		}
	}
}

// WithSeed makes index allocation deterministic. Used by tests and the
// scenario harness.
func WithSeed(seed uint64) Option {
	return func(r *Replica) {
		r.alloc = lseq.NewSeededAllocator(seed)
	}
}

// WithEmitter attaches a transport at construction time.
func WithEmitter(e Emitter) Option {
	return func(r *Replica) {
		r.emitter = e
	}
}

// New creates an empty replica identified by id, which must be a JSON
// scalar unique among all replicas that will ever merge.
func New(id value.Value, opts ...Option) (*Replica, error) {
	if err := ValidateReplicaID(id); err != nil {
		return nil, err
	}
	r := &Replica{
		id:         id,
		clock:      NewClock(id),
		log:        NewLog(),
		tombstones: NewTombstones(),
		doc:        value.Null{},
		empty:      true,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.alloc == nil {
		r.alloc = lseq.NewAllocator(nil)
	}
	r.synth = NewSynthesizer(r.clock, r.alloc)
	r.differ = NewDiffer(r.synth, r.alloc)
	return r, nil
}

// ID returns the replica id.
func (r *Replica) ID() value.Value {
	return r.id
}

// NextIdentifier allocates a fresh identifier from this replica's clock.
func (r *Replica) NextIdentifier() Identifier {
	return r.clock.Next()
}

// SetEmitter replaces the transport. A nil emitter disables broadcasting.
func (r *Replica) SetEmitter(e Emitter) {
	r.emitter = e
}

// Apply merges datums and tombstones into the replica.
//
// The batch is validated and projected against a candidate copy of the
// state first; on any error nothing changes. A batch that adds nothing new
// (redelivery) is a no-op: no listener runs and nothing is emitted. When
// emit is true the batch is handed to the emitter before listeners run.
//
// Apply must not be called from a listener.
func (r *Replica) Apply(datums []Datum, tombstones []Identifier, emit bool) error {
	if r.notifying {
		return &InvariantError{Code: ErrCodeReentrantApply, Message: "apply called from a listener"}
	}
	if len(datums) == 0 && len(tombstones) == 0 {
		return nil
	}

	for _, d := range datums {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("apply: %w", err)
		}
	}
	for _, id := range tombstones {
		if err := ValidateReplicaID(id.Replica); err != nil {
			return fmt.Errorf("apply: tombstone %s: %w", id, err)
		}
	}

	log := r.log.Clone()
	tomb := r.tombstones.Clone()
	buried := 0
	for _, id := range tombstones {
		if tomb.Add(id) {
			buried++
		}
	}
	added := 0
	for _, d := range datums {
		// A tombstoned datum can never surface again.
		if tomb.Has(d.ID) {
			continue
		}
		ok, err := log.Add(d.Clone())
		if err != nil {
			return fmt.Errorf("apply: %w", err)
		}
		if ok {
			added++
		}
	}
	if added == 0 && buried == 0 {
		r.logger.Debug("apply skipped: nothing new",
			"replica", r.id,
			"datums", len(datums),
			"tombstones", len(tombstones),
		)
		return nil
	}

	pruned := log.Prune(tomb)
	proj, err := Project(log.Datums(), tomb)
	if err != nil {
		return fmt.Errorf("apply: %w", err)
	}

	for _, d := range datums {
		r.clock.Observe(d.ID)
	}
	for _, id := range tombstones {
		r.clock.Observe(id)
	}
	r.log = log
	r.tombstones = tomb
	r.doc = proj.Value
	r.empty = proj.Empty

	r.logger.Debug("batch applied",
		"replica", r.id,
		"datums", added,
		"tombstones", buried,
		"pruned", pruned,
		"live", r.log.Len(),
		"emit", emit,
	)

	if emit && r.emitter != nil {
		r.emitter.Emit(Batch{
			Datums:     CloneDatums(datums),
			Tombstones: cloneIdentifiers(tombstones),
		})
	}
	r.notify()
	return nil
}

// SetState records a local edit: it diffs previous (normally the Model of
// an earlier State) against target and applies the resulting delta with
// emit set.
func (r *Replica) SetState(previous []Datum, target value.Value) error {
	if r.notifying {
		return &InvariantError{Code: ErrCodeReentrantApply, Message: "set state called from a listener"}
	}
	delta, err := r.differ.Diff(previous, target)
	if err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	if err := r.Apply(delta.Datums, delta.Tombstones, true); err != nil {
		return fmt.Errorf("set state: %w", err)
	}
	return nil
}

// Update is SetState against the replica's own current model.
func (r *Replica) Update(target value.Value) error {
	return r.SetState(r.log.Datums(), target)
}

// State returns copies of the pruned model and the projected document.
func (r *Replica) State() State {
	return State{
		Model: CloneDatums(r.log.Datums()),
		JSON:  value.Copy(r.doc),
		Empty: r.empty,
	}
}

// JSON returns a copy of the projected document and whether it is present.
func (r *Replica) JSON() (value.Value, bool) {
	return value.Copy(r.doc), !r.empty
}

// Tombstones returns the tombstone set in insertion order.
func (r *Replica) Tombstones() []Identifier {
	return r.tombstones.List()
}

// Digest returns the replica-independent fingerprint of the projection.
// Converged replicas report equal digests.
func (r *Replica) Digest() (string, error) {
	if r.empty {
		return "", nil
	}
	return value.Digest(r.doc)
}

// EmitCompleteState hands the whole pruned log and tombstone set to the
// emitter, for a peer that has just joined. Nothing is sent for a replica
// that has never seen a datum or tombstone.
func (r *Replica) EmitCompleteState() {
	if r.emitter == nil || (r.log.Len() == 0 && r.tombstones.Len() == 0) {
		return
	}
	r.logger.Debug("emitting complete state",
		"replica", r.id,
		"datums", r.log.Len(),
		"tombstones", r.tombstones.Len(),
	)
	r.emitter.Emit(Batch{
		Datums:     CloneDatums(r.log.Datums()),
		Tombstones: r.tombstones.List(),
	})
}

// AddListener registers fn to run after every state change.
func (r *Replica) AddListener(fn Listener) ListenerID {
	r.nextListener++
	r.listeners = append(r.listeners, listenerEntry{id: r.nextListener, fn: fn})
	return r.nextListener
}

// RemoveListener unregisters a listener. It reports whether one was found.
func (r *Replica) RemoveListener(id ListenerID) bool {
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i:i], r.listeners[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Replica) notify() {
	if len(r.listeners) == 0 {
		return
	}
	r.notifying = true
	defer func() { r.notifying = false }()
	for _, l := range r.listeners {
		l.fn(CloneDatums(r.log.Datums()), value.Copy(r.doc))
	}
}

func cloneIdentifiers(in []Identifier) []Identifier {
	out := make([]Identifier, len(in))
	copy(out, in)
	return out
}
