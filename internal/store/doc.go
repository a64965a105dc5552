// Package store persists replica snapshots so a peer can stop and resume
// without losing its identifiers or tombstones.
//
// A snapshot is stored as three parts: the replica row (id and next
// sequence number), the pruned datum log and the tombstone list. Saving a
// snapshot replaces the previous one for that replica in one transaction.
//
// Two backends implement Snapshots:
//   - Store: SQLite, one file per peer. WAL mode, synchronous=NORMAL,
//     busy_timeout=5000, foreign_keys=ON. Schema changes are tracked with
//     PRAGMA user_version.
//   - PostgresStore: a shared Postgres database, for relays and peers that
//     keep their state centrally.
//
// Replica ids and identifiers are stored as their JSON encoding, so any
// scalar id round-trips exactly. Datums and tombstones keep their log order
// through an explicit ord column.
package store
