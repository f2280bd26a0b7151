package objstore

import (
	"slices"
)

// memStorage is a transient in-memory backend intended for tests.
type memStorage struct {
	records map[Address][]byte
	lastSeq uint64
	closed  bool

	// writeErr, when set, fails every WriteAll; tests use it to simulate
	// I/O errors.
	writeErr error
}

func newMemStorage() *memStorage {
	return &memStorage{records: make(map[Address][]byte)}
}

func (s *memStorage) Allocate(frame []byte) (Address, error) {
	if s.closed {
		return NilAddress, ErrClosed
	}
	s.lastSeq++
	addr := Address(s.lastSeq)
	s.records[addr] = slices.Clone(frame)
	return addr, nil
}

func (s *memStorage) Read(addr Address) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	frame, ok := s.records[addr]
	if !ok {
		return nil, ErrUnknownAddress
	}
	return frame, nil
}

func (s *memStorage) WriteAll(writes []recordWrite) error {
	if s.closed {
		return ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	for _, w := range writes {
		if _, ok := s.records[w.addr]; !ok {
			return ErrUnknownAddress
		}
	}
	for _, w := range writes {
		s.records[w.addr] = slices.Clone(w.frame)
	}
	return nil
}

func (s *memStorage) Delete(addr Address) error {
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.records[addr]; !ok {
		return ErrUnknownAddress
	}
	delete(s.records, addr)
	return nil
}

func (s *memStorage) Stats() backendStats {
	var size int64
	for _, frame := range s.records {
		size += int64(len(frame))
	}
	return backendStats{Records: len(s.records), FileSize: size}
}

func (s *memStorage) Close() error {
	s.closed = true
	s.records = nil
	return nil
}
