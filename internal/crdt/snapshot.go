package crdt

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/jsoncrdt/internal/value"
)

// Snapshot is everything needed to rebuild a replica: its id, the next
// sequence number its clock will issue, the pruned log and the tombstones.
type Snapshot struct {
	Replica    value.Value  `json:"replica"`
	NextSeq    int64        `json:"nextSeq"`
	Model      []Datum      `json:"model"`
	Tombstones []Identifier `json:"tombstones"`
}

// UnmarshalJSON decodes a snapshot, checking that the replica id is a
// scalar.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var raw struct {
		Replica    json.RawMessage `json:"replica"`
		NextSeq    int64           `json:"nextSeq"`
		Model      []Datum         `json:"model"`
		Tombstones []Identifier    `json:"tombstones"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	if raw.Replica == nil {
		return fmt.Errorf("snapshot: missing replica")
	}
	id, err := value.Parse(raw.Replica)
	if err != nil {
		return fmt.Errorf("snapshot: replica: %w", err)
	}
	if err := ValidateReplicaID(id); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	*s = Snapshot{
		Replica:    id,
		NextSeq:    raw.NextSeq,
		Model:      raw.Model,
		Tombstones: raw.Tombstones,
	}
	return nil
}

// Snapshot captures the replica's current state.
func (r *Replica) Snapshot() Snapshot {
	return Snapshot{
		Replica:    r.id,
		NextSeq:    r.clock.Current(),
		Model:      CloneDatums(r.log.Datums()),
		Tombstones: r.tombstones.List(),
	}
}

// Restore rebuilds a replica from a snapshot. The clock resumes after the
// greater of NextSeq and every sequence number the snapshot shows this
// replica issuing, so restored replicas never reuse an identifier.
func Restore(snap Snapshot, opts ...Option) (*Replica, error) {
	r, err := New(snap.Replica, opts...)
	if err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	if snap.NextSeq < 0 {
		return nil, fmt.Errorf("restore: negative next sequence %d", snap.NextSeq)
	}
	r.clock = NewClockAt(r.id, snap.NextSeq)
	r.synth = NewSynthesizer(r.clock, r.alloc)
	r.differ = NewDiffer(r.synth, r.alloc)

	if err := r.Apply(snap.Model, snap.Tombstones, false); err != nil {
		return nil, fmt.Errorf("restore: %w", err)
	}
	return r, nil
}

// Digest returns the digest of the document the snapshot projects to, or ""
// when it projects to nothing.
func (s Snapshot) Digest() (string, error) {
	tomb := NewTombstones()
	for _, id := range s.Tombstones {
		tomb.Add(id)
	}
	proj, err := Project(s.Model, tomb)
	if err != nil {
		return "", fmt.Errorf("snapshot digest: %w", err)
	}
	if proj.Empty {
		return "", nil
	}
	return value.Digest(proj.Value)
}
