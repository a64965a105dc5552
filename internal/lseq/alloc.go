package lseq

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Boundary is the width of the random window used at each level.
const Boundary = 20

// baseLevelBits sets the capacity of level 0 to 2^baseLevelBits digits;
// every deeper level doubles it.
const baseLevelBits = 4

var (
	// ErrInvalidInterval is returned when left does not sort strictly before
	// right. It indicates a caller bug and is not retryable.
	ErrInvalidInterval = errors.New("lseq: left bound is not less than right bound")

	// ErrEmptyInterval is returned when no key can exist strictly between
	// the bounds, e.g. [3] and [3 0]. Keys produced by Between never end in
	// a zero digit, so this only happens for hand-built keys.
	ErrEmptyInterval = errors.New("lseq: no key exists strictly between bounds")
)

// Allocator hands out keys between neighbours. It owns its random source;
// an Allocator is not safe for concurrent use.
type Allocator struct {
	rng      *rand.Rand
	boundary int
}

// NewAllocator returns an allocator drawing digits from rng.
// A nil rng uses a randomly seeded PCG source.
func NewAllocator(rng *rand.Rand) *Allocator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Allocator{rng: rng, boundary: Boundary}
}

// NewSeededAllocator returns an allocator with a deterministic source.
// Used by tests and by replicas restored for replay.
func NewSeededAllocator(seed uint64) *Allocator {
	return NewAllocator(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// levelCapacity returns the exclusive upper digit bound at level.
func levelCapacity(level int) int {
	return 1 << (level + baseLevelBits)
}

// Between returns a new key k with left < k < right. A nil bound means the
// interval is open on that side; Between(nil, nil) allocates into an empty
// array.
func (a *Allocator) Between(left, right Key) (Key, error) {
	if left != nil && !left.Valid() {
		return nil, fmt.Errorf("%w: malformed left key %v", ErrInvalidInterval, left)
	}
	if right != nil && !right.Valid() {
		return nil, fmt.Errorf("%w: malformed right key %v", ErrInvalidInterval, right)
	}
	if left != nil && right != nil {
		if Compare(left, right) >= 0 {
			return nil, fmt.Errorf("%w: (%s, %s)", ErrInvalidInterval, left, right)
		}
		// Pad the shorter bound with zeros so both are compared level by
		// level over the same depth.
		left, right = pad(left, right)
	}

	var out Key
	carry := false
	for level := 0; ; level++ {
		lo := 0
		hi := levelCapacity(level)
		if left != nil && level < len(left) {
			lo = max(lo, left[level])
		}
		if right != nil && level < len(right) && !carry {
			hi = min(hi, right[level])
		}

		if lo > hi {
			return nil, fmt.Errorf("%w: (%s, %s)", ErrInvalidInterval, left, right)
		}
		if lo == hi && ((left != nil && level+1 >= len(left)) || (right != nil && level+1 >= len(right))) {
			return nil, fmt.Errorf("%w: (%s, %s)", ErrEmptyInterval, left, right)
		}

		if lo+1 < hi {
			lower := lo + 1
			upper := min(lower+a.boundary, hi)
			return append(out, lower+a.rng.IntN(upper-lower)), nil
		}

		// No free digit at this level: keep lo and look one level deeper.
		// Once lo is strictly below right's digit, right no longer bounds
		// the deeper levels.
		out = append(out, lo)
		carry = carry || lo < hi
	}
}

func pad(left, right Key) (Key, Key) {
	n := max(len(left), len(right))
	l := make(Key, n)
	r := make(Key, n)
	copy(l, left)
	copy(r, right)
	return l, r
}
