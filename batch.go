package verity

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/gordian-engine/verity/vhash"
)

// Batch is the verification context for one run of contiguous data
// blocks, typically one completed read request.
//
// When the active hasher supports paired hashing, the Batch holds each
// odd block pending until its successor arrives, then hashes the two in
// one combined operation. Call Finish to flush a trailing pending block,
// or Abort to drop it on a caller-side failure.
//
// A Batch is used by a single goroutine; concurrency happens across
// batches, not within one.
type Batch struct {
	v *Verifier

	ra raBudget

	// A block awaiting a partner for paired hashing.
	// The Batch borrows the slice until the pair is hashed,
	// so the caller must not recycle the data buffer
	// before the next AddBlocks call, Finish, or Abort.
	pending    []byte
	pendingPos uint64

	// Scratch digest buffers.
	hash1, hash2 [vhash.MaxDigestSize]byte
}

// NewBatch returns a verification context for a run of runBytes
// contiguous bytes. runBytes feeds the read-ahead heuristic only,
// so a rough value is fine.
func (v *Verifier) NewBatch(runBytes int) *Batch {
	b := &Batch{v: v}

	if v.raShift >= 0 && v.geom.TreePages > 0 {
		b.ra.pages = (uint64(runBytes) >> v.geom.LogPageSize) >> uint(v.raShift)
		if b.ra.pages > 0 {
			b.ra.issued = bitset.MustNew(uint(v.geom.TreePages))
		}
	}
	return b
}

// AddBlocks feeds a run of contiguous data blocks into the batch.
//
// data's length must be a positive multiple of the block size and pos,
// the byte position of data[0] within the protected blob, must be
// block-aligned; anything else is a caller bug.
//
// The first corruption or page read failure aborts the whole batch:
// the error is returned immediately and remaining blocks are not
// examined.
func (b *Batch) AddBlocks(data []byte, pos uint64) error {
	g := b.v.geom
	bs := uint64(g.BlockSize)

	if len(data) == 0 || uint64(len(data))&(bs-1) != 0 || pos&(bs-1) != 0 {
		panic(fmt.Errorf(
			"BUG: data run (len=%d, pos=%d) is not block aligned", len(data), pos,
		))
	}

	for off := uint64(0); off < uint64(len(data)); off += bs {
		block := data[off : off+bs]

		switch {
		case b.v.paired == nil:
			// Hash and verify one block by itself.
			d := b.v.hasher.HashBlock(b.hash1[:0], block)
			if err := b.v.verifyBlockDigest(d, pos, &b.ra); err != nil {
				return err
			}

		case b.pending == nil:
			// Wait and see if there's another block to pair with.
			b.pending = block
			b.pendingPos = pos

		default:
			// Hash and verify two blocks at once.
			d1, d2 := b.v.paired.HashBlockPair(
				b.hash1[:0], b.hash2[:0], b.pending, block,
			)
			pendingPos := b.pendingPos
			b.pending = nil

			if err := b.v.verifyBlockDigest(d1, pendingPos, &b.ra); err != nil {
				return err
			}
			if err := b.v.verifyBlockDigest(d2, pos, &b.ra); err != nil {
				return err
			}
		}

		pos += bs
	}
	return nil
}

// Finish flushes the batch. If paired hashing left an odd block pending,
// it is hashed and verified by itself.
func (b *Batch) Finish() error {
	if b.pending == nil {
		return nil
	}

	d := b.v.hasher.HashBlock(b.hash1[:0], b.pending)
	pos := b.pendingPos
	b.pending = nil
	return b.v.verifyBlockDigest(d, pos, &b.ra)
}

// Abort drops any pending state without verifying it.
// Intended for the caller's own error paths;
// the Batch remains usable afterwards.
func (b *Batch) Abort() {
	b.pending = nil
}

// raBudget is a batch's read-ahead budget for the tree's leaf-hash level.
// Each page only carries a nonzero hint the first time the batch
// touches it; repeats would just re-request pages the store has
// already been told about.
type raBudget struct {
	// Maximum extra pages per hint. Zero disables read-ahead.
	pages uint64

	// Leaf-level pages that already carried a hint in this batch.
	// Nil when pages is zero.
	issued *bitset.BitSet
}

// hintFor returns the read-ahead hint to attach to a fetch of pageIdx,
// clamped so the hint never points past the end of the tree.
func (ra *raBudget) hintFor(pageIdx, treePages uint64) uint64 {
	if ra.pages == 0 || ra.issued.Test(uint(pageIdx)) {
		return 0
	}
	ra.issued.Set(uint(pageIdx))
	return min(ra.pages, treePages-pageIdx-1)
}
