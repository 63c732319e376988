package vstore

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// MemStore is an in-memory [NodeStore] and [NodeWriter].
//
// Beyond serving as a reference implementation, it exposes explicit
// eviction and direct access to its backing bytes, which makes the
// eviction and tamper behaviors of the engine observable in tests
// without a real storage layer underneath.
type MemStore struct {
	pageSize int

	mu sync.Mutex

	// Authoritative page bytes, indexed by page index.
	backing map[uint64][]byte

	// Cache-resident page instances.
	// An entry stays here until evicted, so repeated reads of the same
	// page share one instance and therefore one checked flag.
	cached map[uint64]*memPage
}

// NewMemStore returns an empty store serving pages of the given size.
func NewMemStore(pageSize int) *MemStore {
	if pageSize <= 0 || pageSize&(pageSize-1) != 0 {
		panic(fmt.Errorf(
			"BUG: page size must be a positive power of two (got %d)", pageSize,
		))
	}
	return &MemStore{
		pageSize: pageSize,
		backing:  make(map[uint64][]byte),
		cached:   make(map[uint64]*memPage),
	}
}

func (s *MemStore) WriteNodePage(pageIdx uint64, data []byte) error {
	if len(data) != s.pageSize {
		panic(fmt.Errorf(
			"BUG: attempted to write %d bytes as a %d-byte page", len(data), s.pageSize,
		))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.backing[pageIdx] = append([]byte(nil), data...)
	// Any resident instance would now show stale content mixed with a
	// retained checked flag, so drop it.
	delete(s.cached, pageIdx)
	return nil
}

func (s *MemStore) ReadNodePage(pageIdx uint64, raPages uint64) (NodePage, error) {
	// The read-ahead hint is meaningless for an in-memory store.
	_ = raPages

	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cached[pageIdx]; ok {
		p.refs.Add(1)
		return p, nil
	}

	b, ok := s.backing[pageIdx]
	if !ok {
		return nil, MissingPageError{PageIdx: pageIdx}
	}

	// The instance aliases the backing slice rather than copying it,
	// so tests can tamper with stored bytes through PageBytes
	// and have outstanding holders observe the change.
	p := &memPage{data: b}
	p.refs.Store(1)
	s.cached[pageIdx] = p
	return p, nil
}

// Evict drops the cache-resident instance of the given page, if any.
// The next ReadNodePage serves a new, unchecked instance.
func (s *MemStore) Evict(pageIdx uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cached, pageIdx)
}

// EvictAll drops every cache-resident page instance.
func (s *MemStore) EvictAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.cached)
}

// PageBytes returns the authoritative backing bytes of the given page,
// or nil if the page was never written. Mutating the returned slice
// changes what every current and future reader of the page observes.
func (s *MemStore) PageBytes(pageIdx uint64) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backing[pageIdx]
}

type memPage struct {
	data    []byte
	checked atomic.Bool
	refs    atomic.Int32
}

func (p *memPage) Data() []byte { return p.data }

func (p *memPage) Checked() bool { return p.checked.Load() }

func (p *memPage) SetChecked() { p.checked.Store(true) }

func (p *memPage) Release() {
	if p.refs.Add(-1) < 0 {
		panic(fmt.Errorf("BUG: page released more times than it was read"))
	}
}
