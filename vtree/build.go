// Package vtree builds the hash tree that the verification engine
// later walks: data blocks are hashed into the leaf-hash level,
// and each level is hashed into the one above it
// until a single top block remains.
package vtree

import (
	"fmt"

	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vstore"
)

// Build hashes data into a complete tree shaped by g,
// writes every tree page to w,
// and returns the root digest (the digest of the tree's top block).
//
// len(data) must equal g.DataSize; a final partial block is treated
// as zero-padded to the full block size, matching what verification
// expects for the block spanning end of data.
//
// For data fitting in a single block the tree has no levels:
// nothing is written and the returned root is the digest
// of the (padded) data block itself.
func Build(data []byte, g *vgeom.Geometry, w vstore.NodeWriter) ([]byte, error) {
	if uint64(len(data)) != g.DataSize {
		panic(fmt.Errorf(
			"BUG: got %d bytes of data for a geometry describing %d", len(data), g.DataSize,
		))
	}

	h := g.Hasher
	bs := g.BlockSize

	if g.NumLevels == 0 {
		block := make([]byte, bs)
		copy(block, data)
		return h.HashBlock(nil, block), nil
	}

	// The whole tree goes in one backing allocation,
	// padded out to whole pages,
	// and is emitted page by page at the end.
	// Levels are block-aligned but not page-aligned,
	// so building page-at-a-time would straddle level boundaries anyway.
	tree := make([]byte, g.TreePages<<g.LogPageSize)

	// Leaf-hash level: one digest per data block,
	// packed contiguously from the level's start.
	// Digests never straddle a block boundary
	// because the block size is a multiple of the digest size.
	pos := g.LevelStart(0) << g.LogBlockSize
	block := make([]byte, bs)
	for off := 0; off < len(data); off += bs {
		b := data[off:min(off+bs, len(data))]
		if len(b) < bs {
			// Zero-pad the final partial block.
			n := copy(block, b)
			clear(block[n:])
			b = block
		}
		h.HashBlock(tree[pos:pos:pos+uint64(g.DigestSize)], b)
		pos += uint64(g.DigestSize)
	}

	// Each remaining level hashes the blocks of the level below.
	// Unused space at the tail of a level was zero-initialized above,
	// which is exactly the padding the digests must cover.
	for level := 1; level < g.NumLevels; level++ {
		srcPos := g.LevelStart(level-1) << g.LogBlockSize
		dstPos := g.LevelStart(level) << g.LogBlockSize
		for i := uint64(0); i < g.LevelBlocks(level-1); i++ {
			h.HashBlock(tree[dstPos:dstPos:dstPos+uint64(g.DigestSize)], tree[srcPos:srcPos+uint64(bs)])
			srcPos += uint64(bs)
			dstPos += uint64(g.DigestSize)
		}
	}

	// The top block is stored first in the tree.
	root := h.HashBlock(nil, tree[:bs])

	for p := uint64(0); p < g.TreePages; p++ {
		start := p << g.LogPageSize
		if err := w.WriteNodePage(p, tree[start:start+uint64(g.PageSize)]); err != nil {
			return nil, fmt.Errorf("failed to write tree page %d: %w", p, err)
		}
	}

	return root, nil
}
