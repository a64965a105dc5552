package crdt

import (
	"slices"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

// Projection is the JSON document a set of datums describes.
type Projection struct {
	// Value is the projected document. It is value.Null{} when Empty.
	Value value.Value

	// Empty is true when no root candidate survives. The document is then
	// absent, which is distinct from a document that is JSON null.
	Empty bool

	// Live holds every datum visited while projecting: the winners of every
	// reachable slot. Losing candidates are not live but stay in the log,
	// since a later tombstone on the winner can bring them back.
	Live IDSet
}

// Project computes the document described by datums minus tombstones.
// tombstones may be nil. The result is independent of the order of datums.
func Project(datums []Datum, tombstones *Tombstones) (Projection, error) {
	p := newProjector(datums, tombstones)
	return p.project(p.roots)
}

// ProjectSlot projects only the subtree rooted at the given slot
// candidates, which must be drawn from datums.
func ProjectSlot(datums []Datum, tombstones *Tombstones, candidates []Datum) (Projection, error) {
	p := newProjector(datums, tombstones)
	ptrs := make([]*Datum, len(candidates))
	for i := range candidates {
		ptrs[i] = &candidates[i]
	}
	return p.project(ptrs)
}

// projector indexes datums by parent so each container's children are
// found in one lookup.
type projector struct {
	tombstones *Tombstones
	roots      []*Datum
	children   map[Identifier][]*Datum
	live       IDSet
}

func newProjector(datums []Datum, tombstones *Tombstones) *projector {
	p := &projector{
		tombstones: tombstones,
		children:   make(map[Identifier][]*Datum),
	}
	for i := range datums {
		d := &datums[i]
		if d.Parent == nil {
			p.roots = append(p.roots, d)
			continue
		}
		p.children[*d.Parent] = append(p.children[*d.Parent], d)
	}
	return p
}

func (p *projector) project(candidates []*Datum) (Projection, error) {
	p.live = make(IDSet)
	v, ok, err := p.slot(candidates)
	if err != nil {
		return Projection{}, err
	}
	if !ok {
		return Projection{Value: value.Null{}, Empty: true, Live: p.live}, nil
	}
	return Projection{Value: v, Live: p.live}, nil
}

// slot returns the value of the winning candidate, or false when every
// candidate is tombstoned.
func (p *projector) slot(candidates []*Datum) (value.Value, bool, error) {
	w, err := selectWinner(candidates, p.tombstones)
	if err != nil || w == nil {
		return nil, false, err
	}
	if p.live.Has(w.ID) {
		return nil, false, newDuplicateError(w.ID, "datum reachable twice")
	}
	p.live.Add(w.ID)

	switch w.Value.Kind() {
	case value.KindArray:
		arr, err := p.array(w.ID)
		return arr, err == nil, err
	case value.KindObject:
		obj, err := p.object(w.ID)
		return obj, err == nil, err
	default:
		return w.Value, true, nil
	}
}

func (p *projector) array(parent Identifier) (value.Array, error) {
	arr := value.Array{}
	for _, g := range indexGroups(p.children[parent]) {
		v, ok, err := p.slot(g.candidates)
		if err != nil {
			return nil, err
		}
		if ok {
			arr = append(arr, v)
		}
	}
	return arr, nil
}

func (p *projector) object(parent Identifier) (value.Object, error) {
	obj := value.Object{}
	for _, g := range keyGroups(p.children[parent]) {
		v, ok, err := p.slot(g.candidates)
		if err != nil {
			return nil, err
		}
		if ok {
			obj[g.position.Key()] = v
		}
	}
	return obj, nil
}

// selectWinner picks the candidate with the highest counter, ties broken
// by the greater identifier. Tombstoned candidates are skipped; nil means
// none is left. Identical counter and identifier on two candidates is a
// DUPLICATE_IDENTIFIER violation.
func selectWinner(candidates []*Datum, tombstones *Tombstones) (*Datum, error) {
	var best *Datum
	for _, d := range candidates {
		if tombstones.Has(d.ID) {
			continue
		}
		if best == nil {
			best = d
			continue
		}
		switch {
		case d.Counter > best.Counter:
			best = d
		case d.Counter < best.Counter:
		default:
			c := CompareIdentifiers(d.ID, best.ID)
			if c == 0 {
				return nil, newDuplicateError(d.ID, "two candidates of one slot share counter and identifier")
			}
			if c > 0 {
				best = d
			}
		}
	}
	return best, nil
}

// slotGroup is the set of datums competing for one position.
type slotGroup struct {
	position   Position
	candidates []*Datum
}

// indexGroups groups array children by fractional index, ordered by key.
// Children with key positions are ignored.
func indexGroups(children []*Datum) []slotGroup {
	groups := groupBy(children, PositionIndex)
	slices.SortFunc(groups, func(a, b slotGroup) int {
		return lseq.Compare(a.position.Index(), b.position.Index())
	})
	return groups
}

// keyGroups groups object children by member key, in RFC 8785 key order.
// Children with index positions are ignored.
func keyGroups(children []*Datum) []slotGroup {
	groups := groupBy(children, PositionKey)
	keys := make(value.Object, len(groups))
	byKey := make(map[string]slotGroup, len(groups))
	for _, g := range groups {
		keys[g.position.Key()] = value.Null{}
		byKey[g.position.Key()] = g
	}
	out := make([]slotGroup, 0, len(groups))
	for _, k := range keys.SortedKeys() {
		out = append(out, byKey[k])
	}
	return out
}

func groupBy(children []*Datum, kind PositionKind) []slotGroup {
	var groups []slotGroup
	index := make(map[string]int)
	for _, d := range children {
		if d.Position.Kind() != kind {
			continue
		}
		k := d.Position.slotKey()
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, slotGroup{position: d.Position})
		}
		groups[i].candidates = append(groups[i].candidates, d)
	}
	return groups
}
