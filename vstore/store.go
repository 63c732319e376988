package vstore

import "fmt"

// NodePage is one cache-resident page of hash tree content,
// as returned by a [NodeStore].
//
// A page may be held concurrently by multiple verifiers.
// Each successful ReadNodePage call must be balanced by exactly one
// Release call; the page contents are only valid until then.
type NodePage interface {
	// Data returns the page contents.
	// The caller must not modify or retain the slice.
	Data() []byte

	// Checked reports whether this page instance has been inspected by
	// the verified-node tracker since it was loaded from backing storage.
	// A freshly loaded instance always starts unchecked.
	// Implemented as an atomic load.
	Checked() bool

	// SetChecked marks this page instance as inspected.
	// Implemented as an atomic store, so a reader observing
	// Checked() == true also observes writes made before SetChecked.
	SetChecked()

	// Release drops this holder's reference to the page.
	Release()
}

// NodeStore is the caller-supplied capability for fetching hash tree pages.
//
// Implementations are expected to cache pages: a page still resident from
// an earlier read keeps its checked state, while a page evicted and read
// again is served as a new, unchecked instance.
type NodeStore interface {
	// ReadNodePage returns the page with the given index within the tree.
	//
	// raPages is a read-ahead hint: the store may additionally begin
	// loading up to that many pages following pageIdx. The hint is purely
	// advisory and a store may ignore it.
	ReadNodePage(pageIdx uint64, raPages uint64) (NodePage, error)
}

// NodeWriter is the sink used when building a tree.
type NodeWriter interface {
	// WriteNodePage stores the page with the given index within the tree.
	// The store must copy data before returning.
	WriteNodePage(pageIdx uint64, data []byte) error
}

// MissingPageError is returned by a [NodeStore]
// when the requested page has never been written.
type MissingPageError struct {
	PageIdx uint64
}

func (e MissingPageError) Error() string {
	return fmt.Sprintf("hash tree page %d not present in store", e.PageIdx)
}
