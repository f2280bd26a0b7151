package objstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/andreyvit/objstore/mmap"
)

// Page file layout:
//
//	block 0:  magic:64 version:16 reserved:16 blockSize:32 blockCount:64
//	block N:  flags:8 reserved:24 len:32 next:64 data
//
// A record is a chain of blocks linked by next (0 terminates). The number of
// its head block is the record's address. Unused blocks have no flags set and
// are tracked in an in-memory free list rebuilt on open.
const (
	pageMagic   = "OBJSPAGE"
	pageVersion = 1

	pageHeaderSize  = 8 + 2 + 2 + 4 + 8
	blockHeaderSize = 1 + 3 + 4 + 8

	DefaultBlockSize = 1024
	minBlockSize     = 128
	maxBlockSize     = 1024 * 1024

	initialBlocks = 16
)

const (
	blockFlagUsed uint8 = 1 << iota
	blockFlagHead
)

type pageStorage struct {
	f         *os.File
	m         *mmap.Mapping
	blockSize int
	free      []uint64 // ascending
	records   int
	sync      bool
	logger    *slog.Logger
	verbose   bool

	readBuf []byte
	chain   []uint64
}

func openPageStorage(path string, opt Options) (*pageStorage, error) {
	blockSize := opt.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return nil, fmt.Errorf("%w: block size %d out of range [%d, %d]", ErrInvalidOptions, blockSize, minBlockSize, maxBlockSize)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
		}
	}()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		if err := initPageFile(f, blockSize); err != nil {
			return nil, fmt.Errorf("%s: init: %w", path, err)
		}
	} else {
		hdr := make([]byte, pageHeaderSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			return nil, fmt.Errorf("%s: reading header: %w", path, err)
		}
		blockSize, err = parsePageHeader(hdr, fi.Size())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}

	m, err := mmap.Map(f, mmap.Writable|mmap.RandomAccess)
	if err != nil {
		return nil, err
	}

	s := &pageStorage{
		f:         f,
		m:         m,
		blockSize: blockSize,
		sync:      !opt.NoSync && !opt.IsTesting,
		logger:    opt.Logger,
		verbose:   opt.Verbose,
	}
	s.scan()
	ok = true
	return s, nil
}

func initPageFile(f *os.File, blockSize int) error {
	if err := f.Truncate(int64(blockSize * initialBlocks)); err != nil {
		return err
	}
	hdr := make([]byte, pageHeaderSize)
	putPageHeader(hdr, blockSize, initialBlocks)
	_, err := f.WriteAt(hdr, 0)
	return err
}

func putPageHeader(b []byte, blockSize int, blockCount uint64) {
	copy(b[0:8], pageMagic)
	binary.BigEndian.PutUint16(b[8:], pageVersion)
	binary.BigEndian.PutUint16(b[10:], 0)
	binary.BigEndian.PutUint32(b[12:], uint32(blockSize))
	binary.BigEndian.PutUint64(b[16:], blockCount)
}

func parsePageHeader(b []byte, fileSize int64) (int, error) {
	if !bytes.Equal(b[0:8], []byte(pageMagic)) {
		return 0, fmt.Errorf("%w: not a page file", ErrCorrupt)
	}
	if v := binary.BigEndian.Uint16(b[8:]); v != pageVersion {
		return 0, fmt.Errorf("%w: unsupported page file version %d", ErrCorrupt, v)
	}
	blockSize := int(binary.BigEndian.Uint32(b[12:]))
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return 0, fmt.Errorf("%w: invalid block size %d", ErrCorrupt, blockSize)
	}
	blockCount := binary.BigEndian.Uint64(b[16:])
	if fileSize != int64(blockCount)*int64(blockSize) {
		return 0, fmt.Errorf("%w: file size %d does not match %d blocks of %d bytes", ErrCorrupt, fileSize, blockCount, blockSize)
	}
	return blockSize, nil
}

func (s *pageStorage) scan() {
	n := s.blockCount()
	s.free = s.free[:0]
	s.records = 0
	for i := uint64(1); i < n; i++ {
		flags := s.block(i)[0]
		if flags&blockFlagUsed == 0 {
			s.free = append(s.free, i)
		} else if flags&blockFlagHead != 0 {
			s.records++
		}
	}
}

func (s *pageStorage) blockCount() uint64 {
	return uint64(s.m.Size() / s.blockSize)
}

func (s *pageStorage) dataSize() int {
	return s.blockSize - blockHeaderSize
}

func (s *pageStorage) block(i uint64) []byte {
	off := int(i) * s.blockSize
	return s.m.Bytes()[off : off+s.blockSize]
}

func (s *pageStorage) blocksFor(n int) int {
	ds := s.dataSize()
	c := (n + ds - 1) / ds
	if c == 0 {
		c = 1
	}
	return c
}

func (s *pageStorage) ensureFree(n int) error {
	if len(s.free) >= n {
		return nil
	}
	old := s.blockCount()
	step := max(uint64(initialBlocks), old/4)
	need := uint64(n - len(s.free))
	add := max(step, need)
	newCount := old + add

	if err := s.m.Grow(int(newCount) * s.blockSize); err != nil {
		return err
	}
	putPageHeader(s.block(0), s.blockSize, newCount)
	for i := old; i < newCount; i++ {
		s.free = append(s.free, i)
	}
	if s.verbose {
		s.logger.Debug("objstore: page file grown", slog.Uint64("blocks", newCount))
	}
	return nil
}

func (s *pageStorage) takeFree(n int) []uint64 {
	taken := slices.Clone(s.free[:n])
	s.free = slices.Delete(s.free, 0, n)
	return taken
}

func (s *pageStorage) releaseBlocks(blocks []uint64) {
	for _, i := range blocks {
		clear(s.block(i)[:blockHeaderSize])
		pos, _ := slices.BinarySearch(s.free, i)
		s.free = slices.Insert(s.free, pos, i)
	}
}

func (s *pageStorage) writeChain(blocks []uint64, frame []byte) {
	ds := s.dataSize()
	for j, i := range blocks {
		b := s.block(i)
		chunk := frame[min(j*ds, len(frame)):min((j+1)*ds, len(frame))]
		flags := blockFlagUsed
		if j == 0 {
			flags |= blockFlagHead
		}
		var next uint64
		if j+1 < len(blocks) {
			next = blocks[j+1]
		}
		b[0] = flags
		b[1], b[2], b[3] = 0, 0, 0
		binary.BigEndian.PutUint32(b[4:], uint32(len(chunk)))
		binary.BigEndian.PutUint64(b[8:], next)
		copy(b[blockHeaderSize:], chunk)
	}
}

// walk collects the block numbers of the record at addr into s.chain.
func (s *pageStorage) walk(addr Address) error {
	n := s.blockCount()
	head := uint64(addr)
	if head == 0 || head >= n {
		return ErrUnknownAddress
	}
	if flags := s.block(head)[0]; flags&blockFlagUsed == 0 || flags&blockFlagHead == 0 {
		return ErrUnknownAddress
	}
	s.chain = s.chain[:0]
	for i := head; i != 0; {
		if uint64(len(s.chain)) >= n {
			return fmt.Errorf("%w: block chain of %v loops", ErrCorrupt, addr)
		}
		if i >= n {
			return fmt.Errorf("%w: block chain of %v leaves the file at %d", ErrCorrupt, addr, i)
		}
		b := s.block(i)
		if b[0]&blockFlagUsed == 0 || (i != head && b[0]&blockFlagHead != 0) {
			return fmt.Errorf("%w: block chain of %v runs into foreign block %d", ErrCorrupt, addr, i)
		}
		s.chain = append(s.chain, i)
		i = binary.BigEndian.Uint64(b[8:])
	}
	return nil
}

func (s *pageStorage) flush() error {
	if !s.sync {
		return nil
	}
	return s.m.Sync()
}

func (s *pageStorage) Allocate(frame []byte) (Address, error) {
	n := s.blocksFor(len(frame))
	if err := s.ensureFree(n); err != nil {
		return NilAddress, err
	}
	blocks := s.takeFree(n)
	s.writeChain(blocks, frame)
	s.records++
	return Address(blocks[0]), s.flush()
}

func (s *pageStorage) Read(addr Address) ([]byte, error) {
	if err := s.walk(addr); err != nil {
		return nil, err
	}
	ds := s.dataSize()
	s.readBuf = s.readBuf[:0]
	for _, i := range s.chain {
		b := s.block(i)
		l := int(binary.BigEndian.Uint32(b[4:]))
		if l > ds {
			return nil, fmt.Errorf("%w: block %d claims %d bytes", ErrCorrupt, i, l)
		}
		s.readBuf = append(s.readBuf, b[blockHeaderSize:blockHeaderSize+l]...)
	}
	return s.readBuf, nil
}

// WriteAll resolves every chain and reserves all the blocks it needs before
// touching any record, so a failure (e.g. the file cannot grow) changes
// nothing.
func (s *pageStorage) WriteAll(writes []recordWrite) error {
	chains := make([][]uint64, len(writes))
	need := 0
	for i, w := range writes {
		if err := s.walk(w.addr); err != nil {
			return err
		}
		chains[i] = slices.Clone(s.chain)
		need += max(0, s.blocksFor(len(w.frame))-len(chains[i]))
	}
	if err := s.ensureFree(need); err != nil {
		return err
	}
	for i, w := range writes {
		old := chains[i]
		n := s.blocksFor(len(w.frame))
		var blocks []uint64
		if n <= len(old) {
			blocks = old[:n]
			s.releaseBlocks(old[n:])
		} else {
			blocks = append(old, s.takeFree(n-len(old))...)
		}
		s.writeChain(blocks, w.frame)
	}
	return s.flush()
}

func (s *pageStorage) Delete(addr Address) error {
	if err := s.walk(addr); err != nil {
		return err
	}
	s.releaseBlocks(slices.Clone(s.chain))
	s.records--
	return s.flush()
}

func (s *pageStorage) Stats() backendStats {
	return backendStats{
		Records:    s.records,
		FileSize:   int64(s.m.Size()),
		FreeBlocks: len(s.free),
	}
}

func (s *pageStorage) Close() error {
	err := s.m.Sync()
	err = firstErr(err, s.m.Close())
	return firstErr(err, s.f.Close())
}
