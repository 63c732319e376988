package vgeom

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gordian-engine/verity/vhash"
)

// MaxLevels is the maximum supported height of a hash tree,
// from the leaf-hash level up to and including the top level.
//
// The verification hot path keeps one locator per level
// in a fixed-size stack array, so this bound is load-bearing:
// geometry construction fails rather than exceed it.
//
// With the smallest permitted arity of 2, eight levels already cover
// 256 leaf-hash blocks per top-level entry; with realistic parameters
// (4096-byte blocks, 32-byte digests, arity 128) eight levels cover
// far more data than a 64-bit size can express.
const MaxLevels = 8

// InvalidGeometryError is returned by [NewGeometry]
// when the requested tree shape cannot be represented.
type InvalidGeometryError struct {
	Reason string
}

func (e InvalidGeometryError) Error() string {
	return "invalid tree geometry: " + e.Reason
}

// Config is the input to [NewGeometry].
type Config struct {
	// Total size in bytes of the protected data.
	DataSize uint64

	// Size in bytes of one data block and of one hash tree block.
	// Must be a power of two and a multiple of the hasher's digest size.
	BlockSize int

	// Size in bytes of one cache page as served by the node store.
	// Must be a power of two, at least BlockSize.
	PageSize int

	// Hasher computes block digests.
	// Its digest size must be a power of two.
	Hasher vhash.BlockHasher

	// RootHash is the externally-authenticated digest of the tree's top block
	// (or, for a single-block tree with no hash levels, of the data block itself).
	//
	// RootHash may be nil while building a new tree;
	// verification requires it to be set.
	RootHash []byte
}

// Geometry is the immutable description of one hash tree's shape.
//
// A Geometry is created once when a protected blob's verification metadata
// is attached, and is shared by reference across every concurrent verifier
// of that blob. It is never written after construction, so no locking
// is required.
type Geometry struct {
	// DataSize is the logical size in bytes of the protected data.
	DataSize uint64

	BlockSize     int
	LogBlockSize  uint
	PageSize      int
	LogPageSize   uint
	DigestSize    int
	LogDigestSize uint

	// LogArity is log2 of the number of digests per tree block.
	LogArity uint

	// LogBlocksPerPage is log2 of how many tree blocks one cache page holds.
	LogBlocksPerPage uint

	// NumLevels is the tree height from the leaf-hash level to the top level.
	// Zero for data that fits in a single block,
	// in which case RootHash covers the data block directly.
	NumLevels int

	// TreeBlocks is the total number of blocks in the tree.
	TreeBlocks uint64

	// TreePages is the number of cache pages covering the whole tree.
	TreePages uint64

	// Hasher computes block digests for this tree.
	Hasher vhash.BlockHasher

	// RootHash is the trust anchor, DigestSize bytes, or nil while building.
	RootHash []byte

	// ZeroBlockHash is the digest of an all-zero block.
	// Data blocks positioned past DataSize must hash to this value.
	ZeroBlockHash []byte

	// levelStart[i] is the absolute tree block index where level i begins.
	// Level 0 is the leaf-hash level; the top level is stored first,
	// so levelStart[NumLevels-1] == 0 and the values strictly decrease
	// with increasing level index.
	levelStart [MaxLevels]uint64

	// levelBlocks[i] is the number of blocks in level i.
	levelBlocks [MaxLevels]uint64
}

// NewGeometry derives the tree shape for cfg.
//
// It fails with [InvalidGeometryError] if any size parameter is not a
// power of two, the parameters are mutually inconsistent, the tree would
// be taller than [MaxLevels], or any node index would overflow 64 bits.
func NewGeometry(cfg Config) (*Geometry, error) {
	if cfg.Hasher == nil {
		panic(fmt.Errorf("BUG: NewGeometry requires a Hasher"))
	}

	ds := cfg.Hasher.DigestSize()
	switch {
	case cfg.DataSize == 0:
		return nil, InvalidGeometryError{Reason: "data size must be positive"}
	case cfg.BlockSize <= 0 || cfg.BlockSize&(cfg.BlockSize-1) != 0:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"block size %d is not a power of two", cfg.BlockSize,
		)}
	case cfg.PageSize <= 0 || cfg.PageSize&(cfg.PageSize-1) != 0:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"page size %d is not a power of two", cfg.PageSize,
		)}
	case cfg.PageSize < cfg.BlockSize:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"page size %d is smaller than block size %d", cfg.PageSize, cfg.BlockSize,
		)}
	case ds <= 0 || ds&(ds-1) != 0:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"digest size %d is not a power of two", ds,
		)}
	case ds > vhash.MaxDigestSize:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"digest size %d exceeds maximum %d", ds, vhash.MaxDigestSize,
		)}
	case cfg.BlockSize < 2*ds:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"block size %d holds fewer than two %d-byte digests", cfg.BlockSize, ds,
		)}
	case cfg.RootHash != nil && len(cfg.RootHash) != ds:
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"root hash is %d bytes, want %d", len(cfg.RootHash), ds,
		)}
	}

	g := &Geometry{
		DataSize: cfg.DataSize,

		BlockSize:    cfg.BlockSize,
		LogBlockSize: uint(bits.TrailingZeros(uint(cfg.BlockSize))),
		PageSize:     cfg.PageSize,
		LogPageSize:  uint(bits.TrailingZeros(uint(cfg.PageSize))),
		DigestSize:   ds,

		Hasher: cfg.Hasher,
	}
	g.LogDigestSize = uint(bits.TrailingZeros(uint(ds)))
	g.LogArity = g.LogBlockSize - g.LogDigestSize
	g.LogBlocksPerPage = g.LogPageSize - g.LogBlockSize

	// Level sizes from the bottom up.
	// Level 0 holds one digest per data block.
	blocks := (cfg.DataSize + uint64(cfg.BlockSize) - 1) >> g.LogBlockSize
	numLevels := 0
	for blocks > 1 {
		if numLevels >= MaxLevels {
			return nil, InvalidGeometryError{Reason: fmt.Sprintf(
				"tree requires more than %d levels", MaxLevels,
			)}
		}
		blocks = (blocks + g.Arity() - 1) >> g.LogArity
		g.levelBlocks[numLevels] = blocks
		numLevels++
	}
	g.NumLevels = numLevels

	// Starting block indexes, assigned top-down:
	// the top level is stored first in the tree.
	var offset uint64
	for level := numLevels - 1; level >= 0; level-- {
		g.levelStart[level] = offset
		offset += g.levelBlocks[level]
	}
	g.TreeBlocks = offset

	if g.TreeBlocks > math.MaxUint64>>g.LogBlockSize {
		return nil, InvalidGeometryError{Reason: "tree size overflows 64-bit byte offsets"}
	}
	blocksPerPage := uint64(1) << g.LogBlocksPerPage
	g.TreePages = (g.TreeBlocks + blocksPerPage - 1) >> g.LogBlocksPerPage

	g.ZeroBlockHash = cfg.Hasher.HashBlock(nil, make([]byte, cfg.BlockSize))
	if cfg.RootHash != nil {
		g.RootHash = append([]byte(nil), cfg.RootHash...)
	}

	return g, nil
}

// Arity returns the number of child digests per tree block.
func (g *Geometry) Arity() uint64 {
	return 1 << g.LogArity
}

// LevelStart returns the absolute tree block index where the given level begins.
func (g *Geometry) LevelStart(level int) uint64 {
	if level < 0 || level >= g.NumLevels {
		panic(fmt.Errorf(
			"BUG: level %d out of range [0, %d)", level, g.NumLevels,
		))
	}
	return g.levelStart[level]
}

// LevelBlocks returns the number of tree blocks in the given level.
func (g *Geometry) LevelBlocks(level int) uint64 {
	if level < 0 || level >= g.NumLevels {
		panic(fmt.Errorf(
			"BUG: level %d out of range [0, %d)", level, g.NumLevels,
		))
	}
	return g.levelBlocks[level]
}

// NodeIndex returns the absolute tree block index
// of the idx-th block within the given level.
func (g *Geometry) NodeIndex(level int, idx uint64) uint64 {
	return g.LevelStart(level) + idx
}

// HashOffsetInBlock returns the byte offset, within a tree block,
// of the digest belonging to the given child index.
func (g *Geometry) HashOffsetInBlock(childIdx uint64) int {
	return int((childIdx << g.LogDigestSize) & uint64(g.BlockSize-1))
}

// WithRootHash returns a copy of g carrying the given root hash.
// It is intended for the build flow, where the geometry must exist
// before the root digest has been computed.
func (g *Geometry) WithRootHash(root []byte) (*Geometry, error) {
	if len(root) != g.DigestSize {
		return nil, InvalidGeometryError{Reason: fmt.Sprintf(
			"root hash is %d bytes, want %d", len(root), g.DigestSize,
		)}
	}
	out := *g
	out.RootHash = append([]byte(nil), root...)
	return &out, nil
}
