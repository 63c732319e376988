package vsha256

import (
	"crypto/sha256"
)

const DigestSize = sha256.Size

// Hasher is a [vhash.BlockHasher] backed by SHA-256.
//
// Hasher also implements [vhash.PairedBlockHasher].
// The pair method here simply computes the two digests back to back;
// the interface exists so that an accelerated implementation
// (for example one driving a multibuffer SIMD core)
// can be swapped in without touching the verification engine.
type Hasher struct{}

func (Hasher) DigestSize() int {
	return sha256.Size
}

func (Hasher) HashBlock(dst, block []byte) []byte {
	h := sha256.New()
	_, _ = h.Write(block)
	return h.Sum(dst)
}

func (x Hasher) HashBlockPair(dst1, dst2, b1, b2 []byte) ([]byte, []byte) {
	return x.HashBlock(dst1, b1), x.HashBlock(dst2, b2)
}
