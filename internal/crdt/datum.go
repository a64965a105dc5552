package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/roach88/jsoncrdt/internal/value"
)

// Datum is one node of the document: a scalar leaf or an empty container
// placeholder, plus where it lives and how it competes for that place.
type Datum struct {
	// ID uniquely identifies this datum across all replicas.
	ID Identifier

	// Parent is the container placeholder this datum belongs to.
	// Nil only for root candidates.
	Parent *Identifier

	// Value is a scalar, or Array{} / Object{} for a container placeholder.
	Value value.Value

	// Counter is the Lamport counter used to pick a slot's winner.
	Counter int64

	// Position is the object key or array index inside Parent.
	Position Position
}

// Validate checks the datum's internal consistency: a well-formed
// identifier, a scalar or empty-container value, a non-negative counter and
// a position that agrees with the presence of a parent.
func (d Datum) Validate() error {
	if err := ValidateReplicaID(d.ID.Replica); err != nil {
		return newMalformedDatum(d.ID, "identifier: %v", err)
	}
	if d.ID.Seq < 0 {
		return newMalformedDatum(d.ID, "negative sequence number")
	}
	if d.Parent != nil {
		if err := ValidateReplicaID(d.Parent.Replica); err != nil {
			return newMalformedDatum(d.ID, "parent: %v", err)
		}
		if *d.Parent == d.ID {
			return newMalformedDatum(d.ID, "datum is its own parent")
		}
	}
	if d.Value == nil {
		return newMalformedDatum(d.ID, "missing value")
	}
	if err := value.Validate(d.Value); err != nil {
		return newMalformedDatum(d.ID, "value: %v", err)
	}
	if !value.IsScalar(d.Value) && !value.IsEmptyContainer(d.Value) {
		return newMalformedDatum(d.ID, "value must be a scalar or an empty container placeholder")
	}
	if d.Counter < 0 {
		return newMalformedDatum(d.ID, "negative counter %d", d.Counter)
	}
	switch d.Position.Kind() {
	case PositionRoot:
		if d.Parent != nil {
			return newMalformedDatum(d.ID, "child datum has no position")
		}
	case PositionKey:
		if d.Parent == nil {
			return newMalformedDatum(d.ID, "root datum has a key position")
		}
		if !utf8.ValidString(d.Position.Key()) {
			return newMalformedDatum(d.ID, "key %q is not valid UTF-8", d.Position.Key())
		}
	case PositionIndex:
		if d.Parent == nil {
			return newMalformedDatum(d.ID, "root datum has an index position")
		}
		if !d.Position.Index().Valid() {
			return newMalformedDatum(d.ID, "invalid index %v", d.Position.Index())
		}
	default:
		return newMalformedDatum(d.ID, "unknown position kind %s", d.Position.Kind())
	}
	return nil
}

// IsContainer reports whether the datum is an array or object placeholder.
func (d Datum) IsContainer() bool {
	return d.Value != nil && (d.Value.Kind() == value.KindArray || d.Value.Kind() == value.KindObject)
}

// Clone returns a copy that shares no mutable state with d.
func (d Datum) Clone() Datum {
	out := d
	if d.Parent != nil {
		p := *d.Parent
		out.Parent = &p
	}
	if d.Value != nil {
		out.Value = value.Copy(d.Value)
	}
	if d.Position.Kind() == PositionIndex {
		out.Position = IndexPosition(d.Position.Index())
	}
	return out
}

// Equal reports whether two datums are identical in every field.
func (d Datum) Equal(o Datum) bool {
	return d.ID == o.ID &&
		compareParents(d.Parent, o.Parent) == 0 &&
		value.Equal(d.Value, o.Value) &&
		d.Counter == o.Counter &&
		d.Position.Equal(o.Position)
}

// String renders the datum for logs.
func (d Datum) String() string {
	v, err := value.Marshal(d.Value)
	if err != nil {
		v = []byte("?")
	}
	parent := "-"
	if d.Parent != nil {
		parent = d.Parent.String()
	}
	return fmt.Sprintf("%s<-%s@%s=%s#%d", d.ID, parent, d.Position, v, d.Counter)
}

// CloneDatums deep-copies a slice of datums.
func CloneDatums(in []Datum) []Datum {
	if in == nil {
		return nil
	}
	out := make([]Datum, len(in))
	for i, d := range in {
		out[i] = d.Clone()
	}
	return out
}

type datumJSON struct {
	ID       Identifier      `json:"id"`
	Parent   *Identifier     `json:"parent,omitempty"`
	Value    json.RawMessage `json:"value"`
	Counter  int64           `json:"counter"`
	Position *Position       `json:"position,omitempty"`
}

// MarshalJSON encodes the datum. The position is omitted for the root.
func (d Datum) MarshalJSON() ([]byte, error) {
	v, err := value.Marshal(d.Value)
	if err != nil {
		return nil, fmt.Errorf("marshal datum %s: %w", d.ID, err)
	}
	raw := datumJSON{
		ID:      d.ID,
		Parent:  d.Parent,
		Value:   v,
		Counter: d.Counter,
	}
	if !d.Position.IsRoot() {
		pos := d.Position
		raw.Position = &pos
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes a datum and validates it.
func (d *Datum) UnmarshalJSON(data []byte) error {
	var raw datumJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("unmarshal datum: %w", err)
	}
	if raw.Value == nil {
		return fmt.Errorf("unmarshal datum: missing value")
	}
	v, err := value.Parse(raw.Value)
	if err != nil {
		return fmt.Errorf("unmarshal datum: %w", err)
	}
	out := Datum{
		ID:      raw.ID,
		Parent:  raw.Parent,
		Value:   v,
		Counter: raw.Counter,
	}
	if raw.Position != nil {
		out.Position = *raw.Position
	}
	if err := out.Validate(); err != nil {
		return fmt.Errorf("unmarshal datum: %w", err)
	}
	*d = out
	return nil
}
