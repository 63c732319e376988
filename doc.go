// Package verity verifies data read from untrusted backing storage
// against a Merkle hash tree whose root digest was authenticated
// out of band.
//
// A [Verifier] holds the per-blob verification state:
// the immutable tree geometry, the concurrent verified-node tracker,
// and the node store capability that fetches tree pages.
// Each data block's digest is authenticated by ascending the tree
// to the nearest already-verified ancestor and then descending,
// re-deriving and checking each intermediate hash.
//
// Verification of a run of contiguous blocks goes through a [Batch],
// which pairs blocks for combined hashing when the active hasher
// supports it, and which applies the top-level read-ahead heuristic.
package verity
