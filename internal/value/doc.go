// Package value provides the JSON document model shared by every other
// package in jsoncrdt.
//
// A Value is a sealed sum type with an explicit discriminant (Kind). Only
// Null, Bool, Number, String, Array and Object implement it, so a switch over
// Kind() is always exhaustive and no code relies on reflection over arbitrary
// Go values once a document has been admitted through Parse or FromGo.
//
// Two serialisations exist:
//   - Marshal: ordinary JSON with object keys in RFC 8785 order and no HTML
//     escaping. Used for storage and the wire protocol.
//   - MarshalCanonical: RFC 8785 canonical JSON with NFC-normalised strings.
//     Used only for Digest, the replica-independent fingerprint of a
//     projection.
//
// value imports nothing internal.
package value
