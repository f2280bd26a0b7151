//go:build linux

package objstore

import (
	"bytes"
	"os/signal"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// limitFileSize caps the size of files this process may write, so that the
// next page file growth fails with EFBIG.
func limitFileSize(t *testing.T, size int64) {
	t.Helper()
	var saved unix.Rlimit
	require.NoError(t, unix.Getrlimit(unix.RLIMIT_FSIZE, &saved))
	signal.Ignore(unix.SIGXFSZ)
	lim := saved
	lim.Cur = uint64(size)
	require.NoError(t, unix.Setrlimit(unix.RLIMIT_FSIZE, &lim))
	t.Cleanup(func() {
		require.NoError(t, unix.Setrlimit(unix.RLIMIT_FSIZE, &saved))
		signal.Reset(unix.SIGXFSZ)
	})
}

func TestPageStorage_FailedGrowthKeepsStoreUsable(t *testing.T) {
	s := setupStore(t, PageBackend, Options{BlockSize: minBlockSize})
	a1, a2 := insert(t, s, "alpha"), insert(t, s, "beta")
	size := s.Stats().FileSize
	limitFileSize(t, size)

	big := bytes.Repeat([]byte{0xC3}, 40*minBlockSize)
	_, err := s.Insert(KindBinary, big)
	require.Error(t, err)
	require.Equal(t, size, s.Stats().FileSize)

	_, err = objectOps{s}.insertObject(&binaryObject{data: big})
	require.ErrorIs(t, err, ErrObjectNotStored)

	// a release that needs more blocks fails without touching the record
	obj, err := s.Acquire(a1)
	require.NoError(t, err)
	obj.SetBody(big)
	require.Error(t, s.Release(obj))
	require.Equal(t, 0, s.PinnedCount())

	require.Equal(t, "alpha", body(t, s, a1))
	require.Equal(t, "beta", body(t, s, a2))
	a3 := insert(t, s, "gamma")
	require.Equal(t, "gamma", body(t, s, a3))
	require.Equal(t, 3, s.Stats().Records)
}

func TestIndex_FailedGrowthLeavesTreeIntact(t *testing.T) {
	is, err := OpenIndexedStore(setupStore(t, PageBackend, Options{BlockSize: minBlockSize}))
	require.NoError(t, err)
	idx, err := is.CreateIndex("test", IndexOptions{Order: 4})
	require.NoError(t, err)
	// leaves end up as [0 1] [2 3] [4 5] [6 7] [8 9 10]
	for v := range byte(11) {
		require.NoError(t, idx.Insert(k(v), k(v)))
	}
	limitFileSize(t, is.Store().Stats().FileSize)
	big := bytes.Repeat([]byte{0xC3}, 60*minBlockSize)

	requireIntact := func(entries int) {
		t.Helper()
		require.Equal(t, 0, is.Store().PinnedCount())
		require.NoError(t, idx.Check())
		n, err := idx.Len()
		require.NoError(t, err)
		require.Equal(t, entries, n)
		for v := range byte(11) {
			value, found, err := idx.Lookup(k(v))
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, k(v), value)
		}
	}

	// the last leaf has room, so the big entry fails when it is written back
	before, records := shape(t, idx), is.Store().Stats().Records
	err = idx.Insert(k(100), big)
	require.ErrorIs(t, err, ErrObjectNotReleased)
	require.Equal(t, before, shape(t, idx))
	require.Equal(t, records, is.Store().Stats().Records)
	requireIntact(11)

	require.NoError(t, idx.Insert(k(101), k(1)))
	requireIntact(12)

	// now the last leaf splits, and storing its new right half fails
	before, records = shape(t, idx), is.Store().Stats().Records
	err = idx.Insert(k(102), big)
	require.ErrorIs(t, err, ErrObjectNotStored)
	require.Equal(t, before, shape(t, idx))
	require.Equal(t, records, is.Store().Stats().Records)
	requireIntact(12)
}
