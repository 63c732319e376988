package vsha512_test

import (
	"crypto/sha512"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/verity/vhash"
	"github.com/gordian-engine/verity/vhash/vsha512"
)

func TestHasher_HashBlock(t *testing.T) {
	t.Parallel()

	h := vsha512.Hasher{}
	require.Equal(t, sha512.Size, h.DigestSize())

	block := []byte("some block content")
	want := sha512.Sum512(block)
	require.Equal(t, want[:], h.HashBlock(nil, block))
}

func TestHasher_noPairedSupport(t *testing.T) {
	t.Parallel()

	// SHA-512 deliberately stays a plain block hasher.
	var h vhash.BlockHasher = vsha512.Hasher{}
	_, ok := h.(vhash.PairedBlockHasher)
	require.False(t, ok)
}
