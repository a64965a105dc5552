// Package harness runs multi-replica scenarios described in YAML and checks
// that the replicas end up where the scenario says.
//
// # Scenario Format
//
//	name: two_peers
//	description: "Edits on either side reach the other"
//	seed: 1                 # allocator seeds derive from it
//	replicas: [user1, user2]
//	steps:
//	  - connect: [user1, user2]
//	  - flush: true
//	  - set: { replica: user1, json: "first post!" }
//	  - flush: true
//	  - disconnect: [user1, user2]
//	  - restart: user1      # save to the store, restore, relink
//	assertions:
//	  - type: converged
//	  - type: json
//	    replica: user2
//	    expect: "first post!"
//	  - type: one_of
//	    expect_any: [["a", "b"], ["b", "a"]]
//	  - type: tombstones
//	    replica: user1
//	    count: 2
//	  - type: empty
//	    replica: user2
//
// Each step does exactly one thing. Messages only move on flush, so edits
// made between two flushes are concurrent.
//
// # Determinism
//
// Every replica gets an allocator seeded from the scenario seed and its
// position in the replica list, and the network's optional shuffling is
// seeded the same way, so a scenario produces the same trace on every run.
// The trace records each step and the documents every non-empty replica
// holds afterwards; RunWithGolden compares it with
// testdata/golden/<name>.golden.
package harness
