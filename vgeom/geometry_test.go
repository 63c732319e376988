package vgeom_test

import (
	"hash/fnv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vhash/vsha256"
)

// fnv32Hasher is a tiny test hasher whose 4-byte digest
// keeps tree shapes small enough to reason about by hand.
type fnv32Hasher struct{}

func (fnv32Hasher) DigestSize() int { return 4 }

func (fnv32Hasher) HashBlock(dst, block []byte) []byte {
	h := fnv.New32()
	_, _ = h.Write(block)
	return h.Sum(dst)
}

func TestNewGeometry_sha256_twoLevels(t *testing.T) {
	t.Parallel()

	// 256 data blocks with arity 128:
	// two leaf-hash blocks, one top block.
	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  256 * 4096,
		BlockSize: 4096,
		PageSize:  4096,
		Hasher:    vsha256.Hasher{},
	})
	require.NoError(t, err)

	require.Equal(t, 2, g.NumLevels)
	require.Equal(t, uint64(128), g.Arity())
	require.Equal(t, uint64(3), g.TreeBlocks)
	require.Equal(t, uint64(3), g.TreePages)

	// Top level stored first.
	require.Equal(t, uint64(0), g.LevelStart(1))
	require.Equal(t, uint64(1), g.LevelStart(0))
	require.Equal(t, uint64(2), g.LevelBlocks(0))
	require.Equal(t, uint64(1), g.LevelBlocks(1))

	require.Len(t, g.ZeroBlockHash, vsha256.DigestSize)
}

func TestNewGeometry_threeLevels(t *testing.T) {
	t.Parallel()

	// Arity 2: 8 data blocks give levels of 4, 2, and 1 blocks.
	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  64,
		BlockSize: 8,
		PageSize:  16,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)

	require.Equal(t, 3, g.NumLevels)
	require.Equal(t, uint64(2), g.Arity())
	require.Equal(t, uint64(7), g.TreeBlocks)
	require.Equal(t, uint64(4), g.TreePages)

	require.Equal(t, uint64(0), g.LevelStart(2))
	require.Equal(t, uint64(1), g.LevelStart(1))
	require.Equal(t, uint64(3), g.LevelStart(0))

	require.Equal(t, uint64(4), g.NodeIndex(0, 1))

	// Digest of child 0 sits at the block start,
	// child 1 right after it, and child 2 wraps into the next block.
	require.Equal(t, 0, g.HashOffsetInBlock(0))
	require.Equal(t, 4, g.HashOffsetInBlock(1))
	require.Equal(t, 0, g.HashOffsetInBlock(2))
}

func TestNewGeometry_singleBlock(t *testing.T) {
	t.Parallel()

	// Data fitting in one block needs no tree at all:
	// the root hash covers the block directly.
	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  5,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)

	require.Equal(t, 0, g.NumLevels)
	require.Equal(t, uint64(0), g.TreeBlocks)
	require.Equal(t, uint64(0), g.TreePages)
}

func TestNewGeometry_invalid(t *testing.T) {
	t.Parallel()

	base := vgeom.Config{
		DataSize:  64,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	}

	t.Run("zero data size", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.DataSize = 0
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})

	t.Run("block size not a power of two", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.BlockSize = 12
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})

	t.Run("page smaller than block", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.PageSize = 4
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})

	t.Run("block holds fewer than two digests", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.BlockSize = 4
		cfg.PageSize = 4
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})

	t.Run("wrong root hash length", func(t *testing.T) {
		t.Parallel()

		cfg := base
		cfg.RootHash = make([]byte, 3)
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})

	t.Run("too many levels", func(t *testing.T) {
		t.Parallel()

		// Arity 2 with 512 data blocks would need 9 levels.
		cfg := base
		cfg.DataSize = 512 * 8
		_, err := vgeom.NewGeometry(cfg)
		require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
	})
}

func TestGeometry_WithRootHash(t *testing.T) {
	t.Parallel()

	g, err := vgeom.NewGeometry(vgeom.Config{
		DataSize:  64,
		BlockSize: 8,
		PageSize:  8,
		Hasher:    fnv32Hasher{},
	})
	require.NoError(t, err)
	require.Nil(t, g.RootHash)

	root := []byte{1, 2, 3, 4}
	g2, err := g.WithRootHash(root)
	require.NoError(t, err)
	require.Equal(t, root, g2.RootHash)

	// The original stays untouched.
	require.Nil(t, g.RootHash)

	_, err = g.WithRootHash([]byte{1, 2})
	require.ErrorAs(t, err, new(vgeom.InvalidGeometryError))
}
