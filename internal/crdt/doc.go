// Package crdt implements the replication core: a JSON document held as a
// flat log of datums that any number of replicas can edit independently and
// merge in any order.
//
// # Model
//
// Every JSON node is one Datum. Containers are placeholder datums ([] or {})
// whose children point back at them through Parent; a child's Position is
// either an object key or an lseq fractional index. Several datums may share
// a slot (parent, position); the winner is the one with the higher Lamport
// counter, ties going to the greater Identifier. Deletions are tombstoned
// identifiers kept in a separate set. Removing or overwriting a slot
// tombstones every candidate the editing replica knows of, so a write it had
// not seen yet survives and takes the slot.
//
// The projection depends only on which datums and tombstones a replica has
// received, never on their order. Pruning keeps that true: it drops only
// tombstoned datums and their descendants, which can never surface again.
//
// # Data Flow
//
//	local edit:  Replica.SetState -> Differ -> Delta -> Replica.Apply
//	remote edit: transport -> Replica.Apply(emit=false)
//	Apply:       Log + Tombstones -> prune -> Project -> emit -> listeners
//
// # Concurrency
//
// A Replica is single-writer: Apply and SetState are synchronous and must be
// serialised by the caller. Nothing in this package blocks or performs I/O;
// transports receive immutable copies through the Emitter interface.
package crdt
