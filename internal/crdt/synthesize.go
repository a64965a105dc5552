package crdt

import (
	"errors"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/lseq"
	"github.com/roach88/jsoncrdt/internal/value"
)

// Synthesizer turns a JSON value into the datums that describe it, with
// fresh identifiers from a Clock and array indices from an lseq Allocator.
type Synthesizer struct {
	clock *Clock
	alloc *lseq.Allocator
}

// NewSynthesizer creates a synthesizer drawing on clock and alloc.
func NewSynthesizer(clock *Clock, alloc *lseq.Allocator) *Synthesizer {
	return &Synthesizer{clock: clock, alloc: alloc}
}

// Synthesize returns datums describing v placed at (parent, pos). Every
// datum produced carries counter. Datums are ordered parents first, array
// elements by ascending index.
//
// v is validated before any identifier is allocated, so a malformed value
// consumes nothing from the clock.
func (s *Synthesizer) Synthesize(v value.Value, counter int64, parent *Identifier, pos Position) ([]Datum, error) {
	if err := value.Validate(v); err != nil {
		return nil, &InvariantError{Code: ErrCodeMalformedValue, Message: "value cannot be synthesised", Err: err}
	}
	if (parent == nil) != pos.IsRoot() {
		return nil, &InvariantError{
			Code:    ErrCodeMalformedDatum,
			Message: fmt.Sprintf("position %s does not match parent presence", pos),
		}
	}
	var out []Datum
	if err := s.synthesize(&out, v, counter, parent, pos); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Synthesizer) synthesize(out *[]Datum, v value.Value, counter int64, parent *Identifier, pos Position) error {
	d := Datum{
		ID:       s.clock.Next(),
		Parent:   copyParent(parent),
		Value:    value.EmptyLike(v),
		Counter:  counter,
		Position: pos,
	}
	*out = append(*out, d)

	switch val := v.(type) {
	case value.Array:
		var prev lseq.Key
		for _, elem := range val {
			k, err := s.alloc.Between(prev, nil)
			if err != nil {
				return intervalError(err)
			}
			if err := s.synthesize(out, elem, counter, &d.ID, IndexPosition(k)); err != nil {
				return err
			}
			prev = k
		}
	case value.Object:
		for _, key := range val.SortedKeys() {
			if err := s.synthesize(out, val[key], counter, &d.ID, KeyPosition(key)); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyParent(parent *Identifier) *Identifier {
	if parent == nil {
		return nil
	}
	p := *parent
	return &p
}

func intervalError(err error) error {
	if errors.Is(err, lseq.ErrInvalidInterval) || errors.Is(err, lseq.ErrEmptyInterval) {
		return &InvariantError{Code: ErrCodeInvalidInterval, Message: "cannot allocate array index", Err: err}
	}
	return err
}
