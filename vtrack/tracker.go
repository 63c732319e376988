package vtrack

import (
	"sync/atomic"

	"github.com/gordian-engine/verity/vgeom"
)

// Page is the subset of a cached tree page that the tracker relies on.
//
// The underlying store must guarantee that a page instance freshly
// (re)loaded from backing storage starts with Checked reporting false.
// That contract is what protects against trusting stale bits after a page
// is evicted and refetched with possibly different contents.
//
// Checked must be implemented as an atomic load and SetChecked as an
// atomic store, so that a caller observing Checked() == true also
// observes every tracker bit write that happened before the
// corresponding SetChecked call.
type Page interface {
	Checked() bool
	SetChecked()
}

// Tracker records which hash tree blocks have already been
// authenticated against their parent, safe under concurrent access.
//
// When one cache page holds exactly one tree block, no bitmap is kept:
// the page's own checked flag directly indicates "this block is verified",
// and page eviction resets trust for free because a reloaded page
// starts unchecked.
//
// When a page holds multiple tree blocks, the tracker keeps one bit per
// tree block, and the page's checked flag instead means "this page
// instance has been seen since it was loaded". The first caller to see
// an unchecked page clears every bit belonging to that page's blocks
// before marking it checked, which forces re-verification of everything
// the page holds.
type Tracker struct {
	// Number of tree blocks one cache page holds. Power of two.
	blocksPerPage uint64

	// Total tree blocks, to clamp the clearing loop on the final page.
	treeBlocks uint64

	// One bit per tree block. Nil in single-block-per-page mode.
	words []atomic.Uint32
}

// New returns a tracker sized for the given geometry.
func New(g *vgeom.Geometry) *Tracker {
	t := &Tracker{
		blocksPerPage: uint64(1) << g.LogBlocksPerPage,
		treeBlocks:    g.TreeBlocks,
	}
	if t.blocksPerPage > 1 {
		t.words = make([]atomic.Uint32, (g.TreeBlocks+31)/32)
	}
	return t
}

// IsVerified reports whether the tree block with the given absolute index,
// located in page p, has already been authenticated against its parent
// since p was last loaded from backing storage.
//
// Multiple goroutines may call this concurrently for the same page.
// If two callers both observe the page as freshly loaded, both clear the
// page's bits; the redundant clear only causes redundant re-verification,
// never false trust.
func (t *Tracker) IsVerified(p Page, blockIdx uint64) bool {
	if t.words == nil {
		// One block per page: the checked flag is the verified flag.
		return p.Checked()
	}

	if p.Checked() {
		// The atomic load in Checked orders this bit read after the
		// clearing performed by whichever caller transitioned the flag.
		return t.test(blockIdx)
	}

	// Freshly loaded page: its blocks' bits are leftovers from a prior
	// instantiation and must not be trusted. Clear them all, then
	// publish the clearing by setting the checked flag.
	base := blockIdx &^ (t.blocksPerPage - 1)
	end := min(base+t.blocksPerPage, t.treeBlocks)
	for i := base; i < end; i++ {
		t.clear(i)
	}
	p.SetChecked()
	return false
}

// MarkVerified records that the tree block with the given absolute index,
// located in page p, hashed correctly against its already-trusted parent.
//
// MarkVerified is atomic and idempotent; concurrent callers may set the
// same or different bits on the same page. The caller must only invoke it
// after the digest comparison that justifies the trust.
func (t *Tracker) MarkVerified(p Page, blockIdx uint64) {
	if t.words == nil {
		p.SetChecked()
		return
	}
	t.set(blockIdx)
}

func (t *Tracker) test(i uint64) bool {
	return t.words[i>>5].Load()&(1<<(i&31)) != 0
}

func (t *Tracker) set(i uint64) {
	t.words[i>>5].Or(1 << (i & 31))
}

func (t *Tracker) clear(i uint64) {
	t.words[i>>5].And(^(uint32(1) << (i & 31)))
}
