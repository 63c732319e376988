package verity

import (
	"bytes"
	"fmt"

	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vhash"
	"github.com/gordian-engine/verity/vstore"
)

// hashNodeLocator pins one tree level's page during ascent,
// retaining everything descent needs to re-derive and check that node.
// Every locator is released as soon as its level has been consumed,
// or on any error path.
type hashNodeLocator struct {
	// The fetched page holding the node.
	page vstore.NodePage

	// The tree block within the page (a sub-slice of page.Data()).
	node []byte

	// Absolute index of the block within the tree.
	index uint64

	// Byte offset of the wanted child digest within node.
	hoff int
}

// verifyBlockDigest authenticates one data block's digest
// against the tree's root.
//
// In principle every verification needs the entire path to the root.
// But the store caches tree pages and the tracker remembers which blocks
// in them already hashed correctly against their parent, so the ascent
// stops at the first (nearest) already-verified ancestor and only the
// path below it is re-derived.
//
// pos is the byte position of the data block within the protected blob.
// ra, which may be nil, is the batch's top-level read-ahead budget.
func (v *Verifier) verifyBlockDigest(digest []byte, pos uint64, ra *raBudget) error {
	g := v.geom
	hsize := g.DigestSize

	if pos >= g.DataSize {
		// A data page spanning the end of data can contain blocks wholly
		// past it. The tree doesn't cover those, but they are still
		// visible to readers of the page, so they must be all zeroes.
		if !bytes.Equal(digest, g.ZeroBlockHash) {
			return v.corrupted(pos, 0, g.ZeroBlockHash, digest)
		}
		return nil
	}

	var wantBuf, realBuf [vhash.MaxDigestSize]byte
	var want []byte

	// The hash blocks traversed during ascent, indexed by level.
	var locs [vgeom.MaxLevels]hashNodeLocator

	// Index of the current block within its level;
	// also the index of that block's digest within the next level up.
	hidx := pos >> g.LogBlockSize

	// Ascend, saving a locator per level,
	// until a verified block or the root is reached.
	level := 0
	for ; level < g.NumLevels; level++ {
		nextHidx := hidx >> g.LogArity
		blockIdx := g.NodeIndex(level, nextHidx)
		pageIdx := blockIdx >> g.LogBlocksPerPage
		blockOff := (blockIdx << g.LogBlockSize) & uint64(g.PageSize-1)
		hoff := g.HashOffsetInBlock(hidx)

		// Only the leaf-hash level carries a read-ahead hint;
		// it is the largest level and the one sequential reads hammer.
		var hint uint64
		if level == 0 && ra != nil {
			hint = ra.hintFor(pageIdx, g.TreePages)
		}

		page, err := v.store.ReadNodePage(pageIdx, hint)
		if err != nil {
			v.log.Info(
				"Failed to read hash tree page",
				"page", pageIdx,
				"err", err,
			)
			releaseLocators(locs[:level])
			return fmt.Errorf("failed to read hash tree page %d: %w", pageIdx, err)
		}
		node := page.Data()[blockOff : blockOff+uint64(g.BlockSize)]

		if v.tracker.IsVerified(page, blockIdx) {
			// Nearest trusted ancestor found: its stored child digest
			// becomes the initial expectation for the descent.
			want = append(wantBuf[:0], node[hoff:hoff+hsize]...)
			page.Release()
			break
		}

		locs[level] = hashNodeLocator{
			page:  page,
			node:  node,
			index: blockIdx,
			hoff:  hoff,
		}
		hidx = nextHidx
	}

	if level == g.NumLevels {
		// No verified ancestor anywhere on the path:
		// the expectation starts at the trust anchor itself.
		want = g.RootHash
	}

	// Descend, re-deriving and checking each retained level.
	for ; level > 0; level-- {
		l := locs[level-1]

		got := v.hasher.HashBlock(realBuf[:0], l.node)
		if !bytes.Equal(want, got) {
			err := v.corrupted(pos, level, want, got)
			releaseLocators(locs[:level])
			return err
		}

		// The mark must be atomic and idempotent, as the same block may
		// be verified by multiple goroutines concurrently.
		v.tracker.MarkVerified(l.page, l.index)

		want = append(wantBuf[:0], l.node[l.hoff:l.hoff+hsize]...)
		l.page.Release()
	}

	// Finally, check the data block's own digest.
	if !bytes.Equal(want, digest) {
		return v.corrupted(pos, 0, want, digest)
	}
	return nil
}

// corrupted logs and returns a [*CorruptionError],
// copying the digests out of their reused scratch buffers.
func (v *Verifier) corrupted(pos uint64, level int, want, got []byte) error {
	e := &CorruptionError{
		Pos:   pos,
		Level: level,
		Want:  append([]byte(nil), want...),
		Got:   append([]byte(nil), got...),
	}
	v.log.Warn(
		"Data corruption detected",
		"pos", pos,
		"level", level,
		"want", fmt.Sprintf("%x", e.Want),
		"got", fmt.Sprintf("%x", e.Got),
	)
	return e
}

func releaseLocators(locs []hashNodeLocator) {
	for i := range locs {
		locs[i].page.Release()
	}
}
