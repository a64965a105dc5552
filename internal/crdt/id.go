package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/value"
)

// Identifier names a datum uniquely: the issuing replica plus that
// replica's sequence number. Replica is always a JSON scalar, which keeps
// Identifier comparable and usable as a map key.
type Identifier struct {
	Replica value.Value
	Seq     int64
}

// ValidateReplicaID rejects replica ids that are not JSON scalars.
func ValidateReplicaID(id value.Value) error {
	if !value.IsScalar(id) {
		kind := "nil"
		if id != nil {
			kind = id.Kind().String()
		}
		return &InvariantError{
			Code:    ErrCodeInvalidReplica,
			Message: fmt.Sprintf("replica id must be null, boolean, number or string, got %s", kind),
		}
	}
	if err := value.Validate(id); err != nil {
		return &InvariantError{Code: ErrCodeInvalidReplica, Message: "replica id is not valid JSON", Err: err}
	}
	return nil
}

// CompareIdentifiers orders identifiers by replica id (scalar JSON order)
// and then by sequence number.
func CompareIdentifiers(a, b Identifier) int {
	if c := value.Compare(replicaOf(a), replicaOf(b)); c != 0 {
		return c
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	default:
		return 0
	}
}

// compareParents orders optional identifiers; nil (the root) sorts first.
func compareParents(a, b *Identifier) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return CompareIdentifiers(*a, *b)
	}
}

// replicaOf is for ordering and display only. Apply rejects a nil replica.
func replicaOf(id Identifier) value.Value {
	if id.Replica == nil {
		return value.Null{}
	}
	return id.Replica
}

// String renders the identifier as replica:seq using the JSON form of the
// replica id.
func (id Identifier) String() string {
	rep, err := value.Marshal(replicaOf(id))
	if err != nil {
		rep = []byte("?")
	}
	return fmt.Sprintf("%s:%d", rep, id.Seq)
}

type identifierJSON struct {
	Replica json.RawMessage `json:"replica"`
	Seq     *int64          `json:"seq"`
}

// MarshalJSON encodes the identifier as {"replica": <scalar>, "seq": n}.
func (id Identifier) MarshalJSON() ([]byte, error) {
	rep, err := value.Marshal(replicaOf(id))
	if err != nil {
		return nil, fmt.Errorf("marshal identifier: %w", err)
	}
	return json.Marshal(identifierJSON{Replica: rep, Seq: &id.Seq})
}

// UnmarshalJSON decodes an identifier, rejecting container replica ids and
// negative or missing sequence numbers.
func (id *Identifier) UnmarshalJSON(data []byte) error {
	var raw identifierJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("unmarshal identifier: %w", err)
	}
	if raw.Replica == nil {
		return fmt.Errorf("unmarshal identifier: missing replica")
	}
	if raw.Seq == nil || *raw.Seq < 0 {
		return fmt.Errorf("unmarshal identifier: missing or negative seq")
	}
	rep, err := value.Parse(raw.Replica)
	if err != nil {
		return fmt.Errorf("unmarshal identifier: %w", err)
	}
	if err := ValidateReplicaID(rep); err != nil {
		return fmt.Errorf("unmarshal identifier: %w", err)
	}
	*id = Identifier{Replica: rep, Seq: *raw.Seq}
	return nil
}
