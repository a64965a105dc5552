package crdt

import (
	"slices"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

// Delta is the change that turns one projection into another: datums to
// append and identifiers to tombstone.
type Delta struct {
	Datums     []Datum
	Tombstones []Identifier
}

// IsEmpty reports whether the delta changes nothing.
func (d Delta) IsEmpty() bool {
	return len(d.Datums) == 0 && len(d.Tombstones) == 0
}

// Differ computes deltas between a datum model and a target JSON value.
type Differ struct {
	synth *Synthesizer
	alloc *lseq.Allocator
}

// NewDiffer creates a differ that synthesises new content with synth and
// allocates array indices with alloc.
func NewDiffer(synth *Synthesizer, alloc *lseq.Allocator) *Differ {
	return &Differ{synth: synth, alloc: alloc}
}

// Diff returns the delta that makes model project to target. model is read
// as a pruned, tombstone-free snapshot such as Replica.State().Model.
//
// Removing or overwriting a slot tombstones every candidate model holds for
// it; an overwrite also writes the new value at the winner's counter + 1.
//
// Unchanged subtrees produce nothing, so Diff(m, Project(m)) is empty.
// Array edits use a minimum edit script, so inserting one element yields
// one new subtree instead of rewriting the tail.
func (d *Differ) Diff(model []Datum, target value.Value) (Delta, error) {
	if err := value.Validate(target); err != nil {
		return Delta{}, &InvariantError{Code: ErrCodeMalformedValue, Message: "target is not a JSON value", Err: err}
	}
	run := &diffRun{
		differ: d,
		proj:   newProjector(model, nil),
	}
	run.proj.live = make(IDSet)
	if err := run.checkValue(nil, RootPosition(), run.proj.roots, target); err != nil {
		return Delta{}, err
	}
	return run.delta, nil
}

type diffRun struct {
	differ *Differ
	proj   *projector
	delta  Delta
}

// checkValue reconciles one slot with its target. A nil target means the
// slot should be absent.
func (r *diffRun) checkValue(parent *Identifier, pos Position, candidates []*Datum, target value.Value) error {
	w, err := selectWinner(candidates, nil)
	if err != nil {
		return err
	}
	if w == nil {
		if target == nil {
			return nil
		}
		return r.synthesize(target, 0, parent, pos)
	}
	if target == nil {
		r.bury(candidates)
		return nil
	}
	if w.Value.Kind() != target.Kind() {
		r.bury(candidates)
		return r.synthesize(target, w.Counter+1, w.Parent, w.Position)
	}
	switch t := target.(type) {
	case value.Array:
		return r.checkArray(w.ID, t)
	case value.Object:
		return r.checkObject(w.ID, t)
	default:
		if value.Equal(w.Value, target) {
			return nil
		}
		r.bury(candidates)
		return r.synthesize(target, w.Counter+1, w.Parent, w.Position)
	}
}

// bury tombstones every candidate of a slot that is being removed or
// overwritten. Candidates this replica has not seen stay untouched, so a
// concurrent write to the slot survives.
func (r *diffRun) bury(candidates []*Datum) {
	for _, d := range candidates {
		r.delta.Tombstones = append(r.delta.Tombstones, d.ID)
	}
}

func (r *diffRun) synthesize(v value.Value, counter int64, parent *Identifier, pos Position) error {
	datums, err := r.differ.synth.Synthesize(v, counter, parent, pos)
	if err != nil {
		return err
	}
	r.delta.Datums = append(r.delta.Datums, datums...)
	return nil
}

func (r *diffRun) checkObject(parent Identifier, target value.Object) error {
	present := make(map[string]bool)
	for _, g := range keyGroups(r.proj.children[parent]) {
		key := g.position.Key()
		present[key] = true
		if err := r.checkValue(&parent, g.position, g.candidates, target[key]); err != nil {
			return err
		}
	}
	for _, key := range target.SortedKeys() {
		if present[key] {
			continue
		}
		if err := r.synthesize(target[key], 0, &parent, KeyPosition(key)); err != nil {
			return err
		}
	}
	return nil
}

func (r *diffRun) checkArray(parent Identifier, target value.Array) error {
	// Only slots that currently project take part in the edit script.
	var (
		groups []slotGroup
		old    []value.Value
	)
	for _, g := range indexGroups(r.proj.children[parent]) {
		r.proj.live = make(IDSet)
		v, ok, err := r.proj.slot(g.candidates)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		groups = append(groups, g)
		old = append(old, v)
	}

	var (
		lastOld = -2
		lastKey lseq.Key
	)
	for _, step := range editScript(old, target) {
		switch step.op {
		case opInsert:
			var left, right lseq.Key
			if step.oldIndex == lastOld {
				left = lastKey
			} else if step.oldIndex >= 0 {
				left = groups[step.oldIndex].position.Index()
			}
			if step.oldIndex+1 < len(groups) {
				right = groups[step.oldIndex+1].position.Index()
			}
			k, err := r.differ.alloc.Between(left, right)
			if err != nil {
				return intervalError(err)
			}
			if err := r.synthesize(target[step.newIndex], 0, &parent, IndexPosition(k)); err != nil {
				return err
			}
			lastOld, lastKey = step.oldIndex, k
		case opDelete:
			g := groups[step.oldIndex]
			if err := r.checkValue(&parent, g.position, g.candidates, nil); err != nil {
				return err
			}
		case opSubstitute:
			g := groups[step.oldIndex]
			if err := r.checkValue(&parent, g.position, g.candidates, target[step.newIndex]); err != nil {
				return err
			}
		}
	}
	return nil
}

type editOp uint8

const (
	opMatch editOp = iota
	opSubstitute
	opInsert
	opDelete
)

// editStep is one operation of an edit script. For inserts, oldIndex is the
// old element the new one goes after (-1 for the front).
type editStep struct {
	op       editOp
	oldIndex int
	newIndex int
}

// editScript computes a minimum-cost Wagner-Fischer edit script from old to
// target, in ascending order, without matches. Every operation costs 1 and
// substituting equal values costs 0. On equal cost a substitution is
// preferred over an insertion and an insertion over a deletion.
func editScript(old []value.Value, target value.Array) []editStep {
	n, m := len(old), len(target)
	cost := make([][]int, n+1)
	ops := make([][]editOp, n+1)
	for i := range cost {
		cost[i] = make([]int, m+1)
		ops[i] = make([]editOp, m+1)
		cost[i][0] = i
		ops[i][0] = opDelete
	}
	for j := 1; j <= m; j++ {
		cost[0][j] = j
		ops[0][j] = opInsert
	}
	ops[0][0] = opMatch

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			best, op := cost[i-1][j-1], opMatch
			if !value.Equal(old[i-1], target[j-1]) {
				best, op = best+1, opSubstitute
			}
			if c := cost[i][j-1] + 1; c < best {
				best, op = c, opInsert
			}
			if c := cost[i-1][j] + 1; c < best {
				best, op = c, opDelete
			}
			cost[i][j], ops[i][j] = best, op
		}
	}

	var steps []editStep
	for i, j := n, m; i > 0 || j > 0; {
		op := ops[i][j]
		if op != opMatch {
			steps = append(steps, editStep{op: op, oldIndex: i - 1, newIndex: j - 1})
		}
		switch op {
		case opInsert:
			j--
		case opDelete:
			i--
		default:
			i--
			j--
		}
	}
	slices.Reverse(steps)
	return steps
}
