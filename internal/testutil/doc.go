// Package testutil holds helpers shared by tests, the scenario harness and
// the fuzz command: seeded random JSON documents, random variations of an
// existing document, and deterministic replica id sequences.
//
// Every generator takes an explicit seed. The same seed always yields the
// same sequence, which keeps failing fuzz runs reproducible.
package testutil
