package crdt

import "github.com/roach88/jsoncrdt/internal/value"

// Clock issues identifiers for one replica. Each call to Next returns a
// sequence number strictly greater than every previous one.
//
// Clock is owned by its Replica and is not safe for concurrent use; the
// replica's single-writer discipline covers it.
type Clock struct {
	replica value.Value
	next    int64
}

// NewClock creates a clock whose first identifier has Seq 0.
func NewClock(replica value.Value) *Clock {
	return &Clock{replica: replica}
}

// NewClockAt creates a clock resuming at the given sequence number.
// Used when restoring a replica from a snapshot.
func NewClockAt(replica value.Value, next int64) *Clock {
	return &Clock{replica: replica, next: next}
}

// Next returns a fresh identifier and advances the clock.
func (c *Clock) Next() Identifier {
	id := Identifier{Replica: c.replica, Seq: c.next}
	c.next++
	return id
}

// Current returns the sequence number the next identifier will carry.
func (c *Clock) Current() int64 {
	return c.next
}

// Observe moves the clock past id when id was issued under this clock's
// replica id, e.g. by an earlier incarnation whose operations come back
// from a peer after a restore from an older snapshot.
func (c *Clock) Observe(id Identifier) {
	if id.Replica == nil || c.replica == nil || value.Compare(id.Replica, c.replica) != 0 {
		return
	}
	if id.Seq >= c.next {
		c.next = id.Seq + 1
	}
}
