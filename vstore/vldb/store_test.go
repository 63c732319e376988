package vldb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gordian-engine/verity/vstore"
	"github.com/gordian-engine/verity/vstore/vldb"
)

func openMemStore(t *testing.T, cfg vldb.Config) *vldb.Store {
	t.Helper()

	s, err := vldb.Open("", cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func TestStore_writeAndRead(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4})

	require.NoError(t, s.WriteNodePage(7, []byte{1, 2, 3, 4}))

	p, err := s.ReadNodePage(7, 0)
	require.NoError(t, err)
	defer p.Release()

	require.Equal(t, []byte{1, 2, 3, 4}, p.Data())
	require.False(t, p.Checked())
}

func TestStore_readMissingPage(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4})

	_, err := s.ReadNodePage(0, 0)
	require.ErrorAs(t, err, new(vstore.MissingPageError))
}

func TestStore_residentPageSharesCheckedState(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4})
	require.NoError(t, s.WriteNodePage(0, []byte{1, 2, 3, 4}))

	p1, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	p1.SetChecked()
	p1.Release()

	p2, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	defer p2.Release()
	require.True(t, p2.Checked())
}

func TestStore_trimServesFreshInstances(t *testing.T) {
	t.Parallel()

	// A one-page cache: reading a second page
	// trims the first once it is unreferenced.
	s := openMemStore(t, vldb.Config{PageSize: 4, MaxCachedPages: 1})
	require.NoError(t, s.WriteNodePage(0, []byte{1, 2, 3, 4}))
	require.NoError(t, s.WriteNodePage(1, []byte{5, 6, 7, 8}))

	p0, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	p0.SetChecked()
	p0.Release()

	p1, err := s.ReadNodePage(1, 0)
	require.NoError(t, err)
	p1.Release()

	// Page 0 was trimmed, so this is a new, unchecked instance.
	p0again, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	defer p0again.Release()
	require.False(t, p0again.Checked())
}

func TestStore_referencedPagesSurviveTrim(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4, MaxCachedPages: 1})
	require.NoError(t, s.WriteNodePage(0, []byte{1, 2, 3, 4}))
	require.NoError(t, s.WriteNodePage(1, []byte{5, 6, 7, 8}))

	// Hold the reference across the read of another page.
	p0, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	p0.SetChecked()

	p1, err := s.ReadNodePage(1, 0)
	require.NoError(t, err)
	p1.Release()

	p0again, err := s.ReadNodePage(0, 0)
	require.NoError(t, err)
	require.True(t, p0again.Checked())

	p0again.Release()
	p0.Release()
}

func TestStore_readaheadWarmsCache(t *testing.T) {
	t.Parallel()

	s, err := vldb.Open("", vldb.Config{PageSize: 4, MaxCachedPages: 8})
	require.NoError(t, err)

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, s.WriteNodePage(i, []byte{byte(i), 0, 0, 0}))
	}

	p0, err := s.ReadNodePage(0, 2)
	require.NoError(t, err)
	p0.Release()

	// Once the database is closed, only cache-resident pages
	// remain readable, which makes the warming observable.
	require.NoError(t, s.Close())

	p1, err := s.ReadNodePage(1, 0)
	require.NoError(t, err)
	p1.Release()

	p2, err := s.ReadNodePage(2, 0)
	require.NoError(t, err)
	p2.Release()

	// Page 3 was outside the hint and is gone with the database.
	_, err = s.ReadNodePage(3, 0)
	require.Error(t, err)
}

func TestStore_readaheadPastEndOfTree(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4})
	require.NoError(t, s.WriteNodePage(0, []byte{1, 2, 3, 4}))

	// A hint pointing past the last page must not fail the read.
	p, err := s.ReadNodePage(0, 10)
	require.NoError(t, err)
	p.Release()
}

func TestStore_params(t *testing.T) {
	t.Parallel()

	s := openMemStore(t, vldb.Config{PageSize: 4096})

	_, err := s.LoadParams()
	require.Error(t, err)

	in := vldb.Params{
		DataSize:  1 << 20,
		BlockSize: 4096,
		PageSize:  4096,
		Algorithm: "sha256",
		RootHash:  []byte{1, 2, 3, 4},
	}
	require.NoError(t, s.SaveParams(in))

	out, err := s.LoadParams()
	require.NoError(t, err)
	require.Equal(t, in, out)
}
