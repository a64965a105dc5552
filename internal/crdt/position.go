package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/lseq"
)

// PositionKind discriminates the three places a datum can occupy.
type PositionKind uint8

const (
	// PositionRoot is the document root. Only parentless datums have it.
	PositionRoot PositionKind = iota

	// PositionKey is an object member key.
	PositionKey

	// PositionIndex is an lseq fractional index inside an array.
	PositionIndex
)

// String returns the lower-case name of the kind.
func (k PositionKind) String() string {
	switch k {
	case PositionRoot:
		return "root"
	case PositionKey:
		return "key"
	case PositionIndex:
		return "index"
	default:
		return fmt.Sprintf("PositionKind(%d)", uint8(k))
	}
}

// Position locates a datum inside its parent. The zero Position is the root.
type Position struct {
	kind  PositionKind
	key   string
	index lseq.Key
}

// RootPosition returns the position of the document root.
func RootPosition() Position {
	return Position{}
}

// KeyPosition returns the position of the object member named key.
func KeyPosition(key string) Position {
	return Position{kind: PositionKey, key: key}
}

// IndexPosition returns the array position at fractional index k.
// The key is copied.
func IndexPosition(k lseq.Key) Position {
	return Position{kind: PositionIndex, index: k.Clone()}
}

// Kind returns the position kind.
func (p Position) Kind() PositionKind { return p.kind }

// Key returns the object member key. Empty unless Kind is PositionKey.
func (p Position) Key() string { return p.key }

// Index returns the fractional index. Nil unless Kind is PositionIndex.
// The returned slice must not be modified.
func (p Position) Index() lseq.Key { return p.index }

// IsRoot reports whether p is the root position.
func (p Position) IsRoot() bool { return p.kind == PositionRoot }

// Equal reports whether two positions name the same slot within a parent.
func (p Position) Equal(o Position) bool {
	if p.kind != o.kind {
		return false
	}
	switch p.kind {
	case PositionKey:
		return p.key == o.key
	case PositionIndex:
		return p.index.Equal(o.index)
	default:
		return true
	}
}

// slotKey returns a string that is unique per slot within one parent.
func (p Position) slotKey() string {
	switch p.kind {
	case PositionKey:
		return "k:" + p.key
	case PositionIndex:
		return "i:" + p.index.String()
	default:
		return "r"
	}
}

// String renders the position for logs.
func (p Position) String() string {
	switch p.kind {
	case PositionKey:
		return fmt.Sprintf("%q", p.key)
	case PositionIndex:
		return "[" + p.index.String() + "]"
	default:
		return "root"
	}
}

// MarshalJSON encodes a key as a JSON string, an index as an array of
// integers and the root as null.
func (p Position) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case PositionKey:
		return json.Marshal(p.key)
	case PositionIndex:
		return json.Marshal([]int(p.index))
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes the forms written by MarshalJSON.
func (p *Position) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal position: %w", err)
	}
	switch v := raw.(type) {
	case nil:
		*p = RootPosition()
		return nil
	case string:
		*p = KeyPosition(v)
		return nil
	case []any:
		var digits []int
		if err := json.Unmarshal(data, &digits); err != nil {
			return fmt.Errorf("unmarshal position: index digits must be integers: %w", err)
		}
		k := lseq.Key(digits)
		if !k.Valid() {
			return fmt.Errorf("unmarshal position: invalid index %v", digits)
		}
		*p = Position{kind: PositionIndex, index: k}
		return nil
	default:
		return fmt.Errorf("unmarshal position: expected string, array or null, got %T", raw)
	}
}
