package vhash

// MaxDigestSize is the largest digest size, in bytes,
// produced by any supported block hasher.
// Verification keeps per-level scratch digests in fixed arrays of this size,
// so a hasher reporting a larger DigestSize is rejected at geometry construction.
const MaxDigestSize = 64

// BlockHasher is the user-defined interface for hashing
// fixed-size blocks of data and hash tree nodes.
//
// To be allocation-efficient, the BlockHasher implementation
// must append its digest output to dst and return the extended slice,
// instead of creating a new byte slice.
// BlockHasher must not retain references to the dst or block slices.
//
// Furthermore, BlockHasher methods must be safe to call concurrently.
type BlockHasher interface {
	// DigestSize returns the fixed size in bytes of digests
	// appended by HashBlock.
	DigestSize() int

	// HashBlock appends the digest of block to dst,
	// returning the extended slice.
	HashBlock(dst, block []byte) []byte
}

// PairedBlockHasher is an optional extension of [BlockHasher]
// for implementations that can compute two independent block digests
// in one combined operation, at lower amortized cost
// than two separate HashBlock calls.
//
// Consumers detect support with a type assertion
// and fall back to plain HashBlock calls otherwise.
type PairedBlockHasher interface {
	BlockHasher

	// HashBlockPair appends the digest of b1 to dst1
	// and the digest of b2 to dst2,
	// returning both extended slices.
	// The two digests must be identical to what two separate
	// HashBlock calls would have produced.
	HashBlockPair(dst1, dst2, b1, b2 []byte) ([]byte, []byte)
}
