// Package lseq allocates fractional array positions.
//
// A Key is a variable-depth sequence of non-negative digits. Keys compare
// lexicographically, with a missing trailing digit sorting before any
// present digit, so [3] < [3 0 5] < [3 1]. Between(left, right) always
// returns a key strictly inside the open interval, growing the key one
// level deeper when the current level has no free digit. Siblings are never
// renumbered.
//
// The allocator follows the boundary+ strategy of LSEQ (Nédelec et al.,
// DocEng 2013): level L has capacity 2^(L+4), and a new digit is drawn
// uniformly from a window of at most Boundary digits just above the left
// bound. Two replicas allocating between the same neighbours without
// coordination therefore pick distinct keys with high probability, and the
// resulting relative order is fixed by the keys themselves on every replica.
package lseq
