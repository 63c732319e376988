package vsha512

import (
	"crypto/sha512"
)

const DigestSize = sha512.Size

// Hasher is a [vhash.BlockHasher] backed by SHA-512.
//
// Unlike the SHA-256 hasher, this one does not advertise paired hashing,
// so the verification engine hashes every block individually.
type Hasher struct{}

func (Hasher) DigestSize() int {
	return sha512.Size
}

func (Hasher) HashBlock(dst, block []byte) []byte {
	h := sha512.New()
	_, _ = h.Write(block)
	return h.Sum(dst)
}
