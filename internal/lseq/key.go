package lseq

import (
	"slices"
	"strconv"
	"strings"
)

// Key is a fractional index. A nil Key is never a valid position; it is
// used by Between to mean "no bound on this side".
type Key []int

// Compare orders keys digit by digit. A key that runs out of digits first
// sorts before the other.
func Compare(a, b Key) int {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		if i >= len(a) {
			return -1
		}
		if i >= len(b) {
			return 1
		}
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether a sorts strictly before b.
func (k Key) Less(other Key) bool {
	return Compare(k, other) < 0
}

// Equal reports whether both keys hold the same digits.
func (k Key) Equal(other Key) bool {
	return slices.Equal(k, other)
}

// Clone returns an independent copy of k.
func (k Key) Clone() Key {
	if k == nil {
		return nil
	}
	return slices.Clone(k)
}

// String renders the key as dot-separated digits ("3.0.17"). Equal keys
// render identically, so the string form is usable as a map key.
func (k Key) String() string {
	parts := make([]string, len(k))
	for i, d := range k {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ".")
}

// Valid reports whether k is non-empty and has no negative digit.
func (k Key) Valid() bool {
	if len(k) == 0 {
		return false
	}
	for _, d := range k {
		if d < 0 {
			return false
		}
	}
	return true
}
