package crdt

// Log is the datum store: every datum a replica has accepted and not yet
// pruned, in insertion order, indexed by identifier.
//
// CRITICAL: identifiers are unique. Re-adding an identical datum is a no-op
// (redelivery); adding a different datum under a known identifier is a
// DUPLICATE_IDENTIFIER violation.
type Log struct {
	datums []Datum
	byID   map[Identifier]int
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{byID: make(map[Identifier]int)}
}

// Len returns the number of datums held.
func (l *Log) Len() int {
	return len(l.datums)
}

// Datums returns the datums in insertion order. The slice is owned by the
// log and must not be modified; use CloneDatums for a private copy.
func (l *Log) Datums() []Datum {
	return l.datums
}

// Get returns the datum with the given identifier.
func (l *Log) Get(id Identifier) (Datum, bool) {
	i, ok := l.byID[id]
	if !ok {
		return Datum{}, false
	}
	return l.datums[i], true
}

// Add appends d unless it is already present. It reports whether the log
// changed.
func (l *Log) Add(d Datum) (bool, error) {
	if i, ok := l.byID[d.ID]; ok {
		if l.datums[i].Equal(d) {
			return false, nil
		}
		return false, newDuplicateError(d.ID, "identifier reused for a different datum")
	}
	l.byID[d.ID] = len(l.datums)
	l.datums = append(l.datums, d)
	return true, nil
}

// Retain drops every datum whose identifier is not in keep, preserving the
// order of the rest. It returns the number of datums dropped.
func (l *Log) Retain(keep IDSet) int {
	kept := l.datums[:0]
	for _, d := range l.datums {
		if keep.Has(d.ID) {
			kept = append(kept, d)
		}
	}
	dropped := len(l.datums) - len(kept)
	clear(l.datums[len(kept):])
	l.datums = kept

	l.byID = make(map[Identifier]int, len(kept))
	for i, d := range kept {
		l.byID[d.ID] = i
	}
	return dropped
}

// Prune drops every datum that can never be projected again: tombstoned
// datums and everything below a tombstoned container. A datum whose parent
// has not arrived yet is kept. It returns the number of datums dropped.
func (l *Log) Prune(tombstones *Tombstones) int {
	if tombstones.Len() == 0 {
		return 0
	}
	children := make(map[Identifier][]Identifier)
	for _, d := range l.datums {
		if d.Parent != nil {
			children[*d.Parent] = append(children[*d.Parent], d.ID)
		}
	}

	dead := make(IDSet, tombstones.Len())
	stack := tombstones.List()
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if dead.Has(id) {
			continue
		}
		dead.Add(id)
		stack = append(stack, children[id]...)
	}

	keep := make(IDSet, len(l.datums))
	for _, d := range l.datums {
		if !dead.Has(d.ID) {
			keep.Add(d.ID)
		}
	}
	return l.Retain(keep)
}

// Clone returns a copy of the log that can be modified independently.
// Datums are values; their pointer fields are never mutated in place, so
// the copy shares them.
func (l *Log) Clone() *Log {
	out := &Log{
		datums: make([]Datum, len(l.datums)),
		byID:   make(map[Identifier]int, len(l.byID)),
	}
	copy(out.datums, l.datums)
	for id, i := range l.byID {
		out.byID[id] = i
	}
	return out
}

// IDSet is a set of identifiers.
type IDSet map[Identifier]struct{}

// Has reports whether id is in the set. A nil set is empty.
func (s IDSet) Has(id Identifier) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id Identifier) {
	s[id] = struct{}{}
}

// Tombstones is the set of identifiers that are permanently excluded from
// projection. Insertion order is kept so snapshots and complete-state
// broadcasts are stable.
type Tombstones struct {
	order []Identifier
	set   IDSet
}

// NewTombstones returns an empty tombstone set.
func NewTombstones() *Tombstones {
	return &Tombstones{set: make(IDSet)}
}

// Add tombstones id. It reports whether the set changed.
func (t *Tombstones) Add(id Identifier) bool {
	if t.set.Has(id) {
		return false
	}
	t.set.Add(id)
	t.order = append(t.order, id)
	return true
}

// Has reports whether id is tombstoned. A nil set is empty.
func (t *Tombstones) Has(id Identifier) bool {
	if t == nil {
		return false
	}
	return t.set.Has(id)
}

// Len returns the number of tombstones.
func (t *Tombstones) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

// List returns the tombstones in insertion order as a new slice.
func (t *Tombstones) List() []Identifier {
	if t == nil || len(t.order) == 0 {
		return []Identifier{}
	}
	out := make([]Identifier, len(t.order))
	copy(out, t.order)
	return out
}

// Clone returns an independent copy.
func (t *Tombstones) Clone() *Tombstones {
	out := &Tombstones{
		order: make([]Identifier, len(t.order)),
		set:   make(IDSet, len(t.set)),
	}
	copy(out.order, t.order)
	for id := range t.set {
		out.set.Add(id)
	}
	return out
}
