package cli

import (
	"github.com/google/uuid"
)

// ReplicaIDGenerator produces replica ids for new replicas.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs
// (tests).
type ReplicaIDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 replica ids.
//
// Replica ids only need to be unique, but UUIDv7 ids created later also
// compare greater, so a replica that joins later wins ties at equal counters.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
