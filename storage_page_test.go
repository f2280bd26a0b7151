package objstore

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupPageStorage(t testing.TB, path string) *pageStorage {
	t.Helper()
	s, err := openPageStorage(path, Options{IsTesting: true, BlockSize: minBlockSize})
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func allocate(t testing.TB, s backend, frame []byte) Address {
	t.Helper()
	addr, err := s.Allocate(frame)
	require.NoError(t, err)
	return addr
}

func read(t testing.TB, s backend, addr Address) []byte {
	t.Helper()
	frame, err := s.Read(addr)
	require.NoError(t, err)
	return bytes.Clone(frame)
}

func TestPageStorage_ReusesFreedBlocks(t *testing.T) {
	s := setupPageStorage(t, filepath.Join(t.TempDir(), "pages.db"))

	a := allocate(t, s, []byte("a"))
	b := allocate(t, s, []byte("b"))
	require.Equal(t, Address(1), a)
	require.Equal(t, Address(2), b)

	require.NoError(t, s.Delete(a))
	_, err := s.Read(a)
	require.ErrorIs(t, err, ErrUnknownAddress)
	c := allocate(t, s, []byte("c"))
	require.Equal(t, a, c)
	require.Equal(t, "c", string(read(t, s, c)))
	require.Equal(t, "b", string(read(t, s, b)))
}

func TestPageStorage_MultiBlockRecords(t *testing.T) {
	s := setupPageStorage(t, filepath.Join(t.TempDir(), "pages.db"))
	big := bytes.Repeat([]byte("0123456789"), 100)

	addr := allocate(t, s, big)
	require.Equal(t, big, read(t, s, addr))
	free := s.Stats().FreeBlocks

	// shrinking keeps the address and frees the tail
	require.NoError(t, s.WriteAll([]recordWrite{{addr, []byte("tiny")}}))
	require.Equal(t, "tiny", string(read(t, s, addr)))
	require.Greater(t, s.Stats().FreeBlocks, free)

	// growing past the initial file size extends the mapping
	huge := bytes.Repeat([]byte{0x5A}, 40*s.blockSize)
	require.NoError(t, s.WriteAll([]recordWrite{{addr, huge}}))
	require.Equal(t, huge, read(t, s, addr))
	require.Equal(t, 1, s.Stats().Records)
}

func TestPageStorage_WriteAllValidatesEveryAddressFirst(t *testing.T) {
	s := setupPageStorage(t, filepath.Join(t.TempDir(), "pages.db"))
	a := allocate(t, s, []byte("first"))
	b := allocate(t, s, []byte("second"))
	free := s.Stats().FreeBlocks

	err := s.WriteAll([]recordWrite{
		{a, bytes.Repeat([]byte{1}, 10*s.blockSize)},
		{Address(9999), []byte("nowhere")},
	})
	require.ErrorIs(t, err, ErrUnknownAddress)
	require.Equal(t, "first", string(read(t, s, a)))
	require.Equal(t, free, s.Stats().FreeBlocks)

	require.NoError(t, s.WriteAll([]recordWrite{
		{a, bytes.Repeat([]byte{1}, 10*s.blockSize)},
		{b, []byte("2")},
	}))
	require.Equal(t, bytes.Repeat([]byte{1}, 10*s.blockSize), read(t, s, a))
	require.Equal(t, "2", string(read(t, s, b)))
}

func TestPageStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pages.db")
	s, err := openPageStorage(path, Options{IsTesting: true, BlockSize: minBlockSize})
	require.NoError(t, err)
	var addrs []Address
	for i := range 50 {
		addrs = append(addrs, allocate(t, s, bytes.Repeat([]byte{byte(i)}, (i+1)*10)))
	}
	require.NoError(t, s.Delete(addrs[7]))
	require.NoError(t, s.Close())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, fi.Size()%int64(minBlockSize), "file size %d is not a multiple of %d", fi.Size(), minBlockSize)

	// the block size comes from the header, not from the options
	s, err = openPageStorage(path, Options{IsTesting: true})
	require.NoError(t, err)
	defer s.Close()
	require.Equal(t, minBlockSize, s.blockSize)
	require.Equal(t, 49, s.Stats().Records)
	for i, addr := range addrs {
		if i == 7 {
			continue
		}
		require.Equal(t, bytes.Repeat([]byte{byte(i)}, (i+1)*10), read(t, s, addr))
	}
	require.Equal(t, addrs[7], allocate(t, s, []byte("again")))
}

func TestPageStorage_Corruption(t *testing.T) {
	s := setupPageStorage(t, filepath.Join(t.TempDir(), "pages.db"))
	addr := allocate(t, s, []byte("loop"))

	_, err := s.Read(Address(9999))
	require.ErrorIs(t, err, ErrUnknownAddress, "beyond file")
	_, err = s.Read(Address(5))
	require.ErrorIs(t, err, ErrUnknownAddress, "free block")

	binary.BigEndian.PutUint64(s.block(uint64(addr))[8:], uint64(addr))
	_, err = s.Read(addr)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestPageStorage_RejectsForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.db")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("junk"), 1024), 0o644))
	_, err := openPageStorage(path, Options{IsTesting: true})
	require.Error(t, err)
}
