package verity

import (
	"fmt"
	"log/slog"

	"github.com/gordian-engine/verity/vgeom"
	"github.com/gordian-engine/verity/vhash"
	"github.com/gordian-engine/verity/vstore"
	"github.com/gordian-engine/verity/vtrack"
)

// Verifier is the verification state for one protected blob.
//
// A Verifier is safe for concurrent use: verification runs on whatever
// goroutines the caller handles completed reads on, with no lock
// serializing them. Correctness under concurrency comes entirely from
// the tracker's atomic bit operations and the page checked-flag ordering.
type Verifier struct {
	log *slog.Logger

	geom    *vgeom.Geometry
	tracker *vtrack.Tracker
	store   vstore.NodeStore

	hasher vhash.BlockHasher

	// Non-nil when the hasher supports combined two-block hashing.
	paired vhash.PairedBlockHasher

	// Right shift applied to a run's page count to derive its
	// top-level read-ahead budget. Negative disables read-ahead.
	raShift int
}

// VerifierConfig is the configuration passed to [NewVerifier].
type VerifierConfig struct {
	// Geometry describes the tree. Its RootHash must be set.
	Geometry *vgeom.Geometry

	// Store fetches tree pages.
	Store vstore.NodeStore

	// ReadaheadShift tunes the read-ahead heuristic for the tree's
	// top (leaf-hash) level: a batch over n data pages requests
	// prefetch of up to n >> ReadaheadShift extra tree pages on its
	// first fetch of each leaf-level page.
	//
	// Zero means the default shift of 2, i.e. one quarter of the run,
	// the heuristic the engine was tuned with.
	// A negative value disables read-ahead entirely.
	ReadaheadShift int
}

// NewVerifier returns a Verifier for one protected blob.
//
// The returned Verifier owns a fresh verified-node tracker,
// so trust accumulated by one Verifier is invisible to another
// even when they share a store.
func NewVerifier(log *slog.Logger, cfg VerifierConfig) *Verifier {
	if cfg.Geometry == nil {
		panic(fmt.Errorf("BUG: NewVerifier requires a Geometry"))
	}
	if cfg.Geometry.RootHash == nil {
		panic(fmt.Errorf("BUG: NewVerifier requires a Geometry with a root hash"))
	}
	if cfg.Store == nil {
		panic(fmt.Errorf("BUG: NewVerifier requires a Store"))
	}

	raShift := cfg.ReadaheadShift
	if raShift == 0 {
		raShift = 2
	}

	v := &Verifier{
		log: log,

		geom:    cfg.Geometry,
		tracker: vtrack.New(cfg.Geometry),
		store:   cfg.Store,

		hasher: cfg.Geometry.Hasher,

		raShift: raShift,
	}
	v.paired, _ = v.hasher.(vhash.PairedBlockHasher)
	return v
}

// Geometry returns the tree geometry this Verifier authenticates against.
func (v *Verifier) Geometry() *vgeom.Geometry {
	return v.geom
}

// VerifyBlocks verifies a single run of contiguous data blocks
// that has just been read from storage.
//
// data's length must be a positive multiple of the block size,
// and pos is the byte position of data[0] within the protected blob,
// also block-aligned.
//
// It returns nil if every block is authentic,
// a [*CorruptionError] on any digest mismatch,
// or a wrapped store error if a tree page could not be fetched.
func (v *Verifier) VerifyBlocks(data []byte, pos uint64) error {
	b := v.NewBatch(len(data))
	if err := b.AddBlocks(data, pos); err != nil {
		b.Abort()
		return err
	}
	return b.Finish()
}
