package value

import (
	"slices"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// This is the ONLY serialisation that may feed Digest.
//
// Differences from Marshal:
//  1. Strings and object keys are NFC normalised.
//  2. Keys are ordered by their normalised UTF-16 code units.
//
// Both serialisations share number formatting and escaping rules, so a
// document made only of ASCII strings produces identical bytes either way.
func MarshalCanonical(v Value) ([]byte, error) {
	return appendValue(nil, v, true)
}

// normalize applies NFC at the serialisation boundary only; stored and
// projected documents keep the exact code points callers wrote.
func normalize(s string) string {
	return norm.NFC.String(s)
}

func sortedKeysFor(obj Object, canonical bool) []string {
	if !canonical {
		return obj.SortedKeys()
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		return compareKeysUTF16(normalize(a), normalize(b))
	})
	return keys
}
