package vldb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/syndtr/goleveldb/leveldb"
	ldbstorage "github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/gordian-engine/verity/vstore"
)

// Store is a [vstore.NodeStore] and [vstore.NodeWriter]
// persisting hash tree pages in LevelDB,
// with an in-memory cache of resident page instances in front of it.
//
// The cache is what gives the store its freshness semantics:
// a page still resident keeps its checked state across reads,
// while a page trimmed from the cache is served as a new,
// unchecked instance on the next read.
type Store struct {
	db *leveldb.DB

	pageSize  int
	maxCached int

	mu sync.Mutex

	cached map[uint64]*cachedPage

	// Page indexes in insertion order, for FIFO trimming.
	order []uint64
}

// Config is the configuration for [Open].
type Config struct {
	// Size in bytes of one tree page.
	PageSize int

	// MaxCachedPages caps how many page instances stay resident.
	// Unreferenced pages beyond the cap are trimmed oldest-first.
	// Zero means a default of 64.
	MaxCachedPages int
}

// Open opens or creates a store at the given path.
// An empty path uses in-memory LevelDB storage.
func Open(path string, cfg Config) (*Store, error) {
	if cfg.PageSize <= 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		panic(fmt.Errorf(
			"BUG: page size must be a positive power of two (got %d)", cfg.PageSize,
		))
	}

	maxCached := cfg.MaxCachedPages
	if maxCached == 0 {
		maxCached = 64
	}

	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(ldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb store: %w", err)
	}

	return &Store{
		db: db,

		pageSize:  cfg.PageSize,
		maxCached: maxCached,

		cached: make(map[uint64]*cachedPage),
	}, nil
}

// Close releases the underlying database.
// Pages already handed out remain readable,
// but further ReadNodePage calls on uncached pages will fail.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) WriteNodePage(pageIdx uint64, data []byte) error {
	if len(data) != s.pageSize {
		panic(fmt.Errorf(
			"BUG: attempted to write %d bytes as a %d-byte page", len(data), s.pageSize,
		))
	}

	if err := s.db.Put(pageKey(pageIdx), data, nil); err != nil {
		return fmt.Errorf("failed to persist tree page %d: %w", pageIdx, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// A resident instance for this index would now be stale.
	if _, ok := s.cached[pageIdx]; ok {
		delete(s.cached, pageIdx)
		s.dropFromOrder(pageIdx)
	}
	return nil
}

func (s *Store) ReadNodePage(pageIdx uint64, raPages uint64) (vstore.NodePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.cached[pageIdx]; ok {
		p.refs.Add(1)
		return p, nil
	}

	p, err := s.loadLocked(pageIdx)
	if err != nil {
		return nil, err
	}
	p.refs.Add(1)

	// Honor the read-ahead hint by warming the cache with following pages.
	// These are inserted unreferenced, so they are the first trim candidates.
	for i := uint64(1); i <= raPages; i++ {
		if _, ok := s.cached[pageIdx+i]; ok {
			continue
		}
		if _, err := s.loadLocked(pageIdx + i); err != nil {
			// Read-ahead is advisory; a short tree or an I/O hiccup here
			// must not fail the read that carried the hint.
			break
		}
	}

	s.trimLocked()
	return p, nil
}

// loadLocked fetches a page from LevelDB and inserts it in the cache
// with zero references. Caller holds s.mu.
func (s *Store) loadLocked(pageIdx uint64) (*cachedPage, error) {
	b, err := s.db.Get(pageKey(pageIdx), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, vstore.MissingPageError{PageIdx: pageIdx}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tree page %d: %w", pageIdx, err)
	}

	p := &cachedPage{data: b}
	s.cached[pageIdx] = p
	s.order = append(s.order, pageIdx)
	return p, nil
}

// trimLocked evicts unreferenced pages, oldest first,
// until the cache is within its cap. Caller holds s.mu.
func (s *Store) trimLocked() {
	if len(s.cached) <= s.maxCached {
		return
	}

	kept := s.order[:0]
	for _, idx := range s.order {
		p, ok := s.cached[idx]
		if !ok {
			continue
		}
		if len(s.cached) > s.maxCached && p.refs.Load() == 0 {
			delete(s.cached, idx)
			continue
		}
		kept = append(kept, idx)
	}
	s.order = kept
}

func (s *Store) dropFromOrder(pageIdx uint64) {
	for i, idx := range s.order {
		if idx == pageIdx {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Params is the tree metadata persisted alongside the pages,
// everything a reader needs to reconstruct the verification geometry.
type Params struct {
	DataSize  uint64 `json:"data_size"`
	BlockSize int    `json:"block_size"`
	PageSize  int    `json:"page_size"`
	Algorithm string `json:"algorithm"`
	RootHash  []byte `json:"root_hash"`
}

var paramsKey = []byte("m/params")

// SaveParams persists the tree metadata.
func (s *Store) SaveParams(p Params) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode tree params: %w", err)
	}
	if err := s.db.Put(paramsKey, b, nil); err != nil {
		return fmt.Errorf("failed to persist tree params: %w", err)
	}
	return nil
}

// LoadParams reads back the tree metadata stored by SaveParams.
func (s *Store) LoadParams() (Params, error) {
	b, err := s.db.Get(paramsKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Params{}, fmt.Errorf("store has no tree params: %w", err)
	}
	if err != nil {
		return Params{}, fmt.Errorf("failed to read tree params: %w", err)
	}

	var p Params
	if err := json.Unmarshal(b, &p); err != nil {
		return Params{}, fmt.Errorf("failed to decode tree params: %w", err)
	}
	return p, nil
}

func pageKey(pageIdx uint64) []byte {
	var k [9]byte
	k[0] = 'p'
	binary.BigEndian.PutUint64(k[1:], pageIdx)
	return k[:]
}

type cachedPage struct {
	data    []byte
	checked atomic.Bool
	refs    atomic.Int32
}

func (p *cachedPage) Data() []byte { return p.data }

func (p *cachedPage) Checked() bool { return p.checked.Load() }

func (p *cachedPage) SetChecked() { p.checked.Store(true) }

func (p *cachedPage) Release() {
	if p.refs.Add(-1) < 0 {
		panic(fmt.Errorf("BUG: page released more times than it was read"))
	}
}
