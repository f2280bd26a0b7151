// Package mmap maps files into memory for the page-file object storage.
package mmap

import (
	"errors"
	"fmt"
	"os"
)

type Options uint

const (
	// Writable opens the mapping for writing (otherwise, it's read-only).
	Writable Options = 1 << 0

	// SequentialAccess is a hint requesting aggressive read-ahead.
	// Incompatible with RandomAccess. Maps to MADV_SEQUENTIAL on Unix.
	SequentialAccess Options = 1 << 1

	// RandomAccess is a hint that read ahead is less useful than normally.
	// Incompatible with SequentialAccess. Maps to MADV_RANDOM on Unix.
	RandomAccess Options = 1 << 2

	// Prefault is a hint requesting the entire file to be loaded in memory
	// for fastest access. Maps to MAP_POPULATE on Linux.
	Prefault Options = 1 << 3
)

var ErrTooLarge = errors.New("mapping exceeds maximum mmap size")

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// Mmap memory maps the first size bytes of the file.
func Mmap(f *os.File, offset, size int, opt Options) ([]byte, error) {
	if offset != 0 {
		panic("non-zero offset not yet supported")
	}
	if uint64(size) > MaxSize {
		return nil, ErrTooLarge
	}
	return mmap(f, size, opt)
}

// Munmap unmaps the given slice from memory. The slice must have been returned
// by Mmap.
func Munmap(b []byte) error {
	return munmap(b)
}

// Mapping is a whole-file mapping that can grow together with its file.
type Mapping struct {
	f    *os.File
	data []byte
	opt  Options
}

// Map maps the whole file, which must not be empty.
func Map(f *os.File, opt Options) (*Mapping, error) {
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if fi.Size() == 0 {
		return nil, fmt.Errorf("mmap %s: empty file", f.Name())
	}
	data, err := Mmap(f, 0, int(fi.Size()), opt)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return &Mapping{f: f, data: data, opt: opt}, nil
}

// Bytes returns the mapped memory. The slice is invalidated by Grow and Close.
func (m *Mapping) Bytes() []byte {
	return m.data
}

func (m *Mapping) Size() int {
	return len(m.data)
}

// Grow extends the file to size bytes and re-maps it. Shrinking is a no-op.
// On error the file size and the mapping are left as they were.
func (m *Mapping) Grow(size int) error {
	old := len(m.data)
	if size <= old {
		return nil
	}
	if uint64(size) > MaxSize {
		return ErrTooLarge
	}
	if err := m.f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("truncate %s: %w", m.f.Name(), err)
	}
	data, err := mmap(m.f, size, m.opt)
	if err != nil {
		_ = m.f.Truncate(int64(old))
		return fmt.Errorf("mmap %s: %w", m.f.Name(), err)
	}
	// The new mapping is already in place; failing to unmap the old one only
	// leaks address space.
	_ = munmap(m.data)
	m.data = data
	return nil
}

// Sync flushes the mapping to disk, see Fdatasync.
func (m *Mapping) Sync() error {
	return Fdatasync(m.f, m.data)
}

// Close unmaps the memory. The file stays open.
func (m *Mapping) Close() error {
	if m.data == nil {
		return nil
	}
	err := munmap(m.data)
	m.data = nil
	return err
}
