package vtree_test

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vstore"
	"github.com/gordian-engine/verity/vtree"
)

// The tests here use a 4-byte fnv32 digest with an 8-byte block size,
// giving arity 2, so expected tree content is easy to compute by hand.

type fnv32Hasher struct{}

func (fnv32Hasher) DigestSize() int { return 4 }

func (fnv32Hasher) HashBlock(dst, block []byte) []byte {
	h := fnv.New32()
	_, _ = h.Write(block)
	return h.Sum(dst)
}

func fnv32Hash(parts ...[]byte) []byte {
	h := fnv.New32()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return h.Sum(nil)
}

func TestBuild_fourBlocks(t *testing.T) {
	t.Parallel()

	data := []byte("block000block111block222block333")
	require.Len(t, data, 32)

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  32,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)
	require.Equal(t, 2, g.NumLevels)

	store := vstore.NewMemStore(8)
	root, err := vtree.Build(data, g, store)
	require.NoError(t, err)

	d0 := fnv32Hash(data[0:8])
	d1 := fnv32Hash(data[8:16])
	d2 := fnv32Hash(data[16:24])
	d3 := fnv32Hash(data[24:32])

	// Leaf-hash level, stored after the top block.
	node01 := append(append([]byte(nil), d0...), d1...)
	node23 := append(append([]byte(nil), d2...), d3...)
	require.Equal(t, node01, store.PageBytes(1))
	require.Equal(t, node23, store.PageBytes(2))

	// Top block first, root is its digest.
	top := append(fnv32Hash(node01), fnv32Hash(node23)...)
	require.Equal(t, top, store.PageBytes(0))
	require.Equal(t, fnv32Hash(top), root)
}

func TestBuild_padsFinalPartialBlock(t *testing.T) {
	t.Parallel()

	data := []byte("block000tail")
	require.Len(t, data, 12)

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  12,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)
	require.Equal(t, 1, g.NumLevels)

	store := vstore.NewMemStore(8)
	root, err := vtree.Build(data, g, store)
	require.NoError(t, err)

	d0 := fnv32Hash(data[0:8])
	d1 := fnv32Hash([]byte("tail\x00\x00\x00\x00"))

	node := append(append([]byte(nil), d0...), d1...)
	require.Equal(t, node, store.PageBytes(0))
	require.Equal(t, fnv32Hash(node), root)
}

func TestBuild_singleBlock(t *testing.T) {
	t.Parallel()

	data := []byte("tiny")

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  4,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)
	require.Equal(t, 0, g.NumLevels)

	store := vstore.NewMemStore(8)
	root, err := vtree.Build(data, g, store)
	require.NoError(t, err)

	// No levels: the root covers the padded data block directly,
	// and nothing is written to the store.
	require.Equal(t, fnv32Hash([]byte("tiny\x00\x00\x00\x00")), root)
	require.Nil(t, store.PageBytes(0))
}

func TestBuild_levelsNotPageAligned(t *testing.T) {
	t.Parallel()

	// 16-byte pages over 8-byte blocks: the top block and the first
	// leaf-hash block share page 0.
	data := []byte("block000block111block222block333")

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  32,
		BlockSize: 8,
		PageSize:  16,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), g.TreePages)

	store := vstore.NewMemStore(16)
	_, err = vtree.Build(data, g, store)
	require.NoError(t, err)

	d0 := fnv32Hash(data[0:8])
	d1 := fnv32Hash(data[8:16])
	d2 := fnv32Hash(data[16:24])
	d3 := fnv32Hash(data[24:32])

	node01 := append(append([]byte(nil), d0...), d1...)
	node23 := append(append([]byte(nil), d2...), d3...)
	top := append(fnv32Hash(node01), fnv32Hash(node23)...)

	require.Equal(t, append(append([]byte(nil), top...), node01...), store.PageBytes(0))
	require.Equal(t, append(append([]byte(nil), node23...), make([]byte, 8)...), store.PageBytes(1))
}
