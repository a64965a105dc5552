package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out replica ids "<prefix>-1", "<prefix>-2", ... in
// order. It stands in for the UUIDv7 generator when output must be
// byte-identical across runs (golden traces).
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "replica".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "replica"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence at 1.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
