package objstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type Options struct {
	Backend     Backend
	Compression Compression
	Logger      *slog.Logger
	Verbose     bool
	IsTesting   bool

	// NoSync skips fsync after every mutation (page backend) or commit (bolt).
	NoSync bool

	// MmapSize is the initial Bolt mmap size.
	MmapSize int

	// BlockSize is the page backend block size for newly created files.
	BlockSize int

	// MaxRecordSize limits the encoded size of one record, 64 MiB at most
	// (the default).
	MaxRecordSize int
}

func (o *Options) normalize() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.MaxRecordSize <= 0 || o.MaxRecordSize > maxRecordSize {
		o.MaxRecordSize = maxRecordSize
	}
}

// ObjectStore keeps typed records behind stable addresses and tracks which of
// them are pinned in memory. An address has at most one pinned StoredObject at
// a time; acquiring it again fails instead of blocking.
//
// A single mutex guards the pin table and the backend, held for the duration
// of one call only.
type ObjectStore struct {
	mu          sync.Mutex
	backend     backend
	pins        map[Address]*StoredObject
	closed      bool
	path        string
	compression Compression
	maxRecord   int
	logger      *slog.Logger
	verbose     bool

	InsertCount  atomic.Uint64
	AcquireCount atomic.Uint64
	ReleaseCount atomic.Uint64
	RemoveCount  atomic.Uint64
}

// Open opens or creates a store at path using opt.Backend.
func Open(path string, opt Options) (*ObjectStore, error) {
	opt.normalize()
	var b backend
	switch opt.Backend {
	case BoltBackend:
		bs, err := openBoltStorage(path, opt)
		if err != nil {
			return nil, fmt.Errorf("objstore: %w", err)
		}
		b = bs
	case PageBackend:
		ps, err := openPageStorage(path, opt)
		if err != nil {
			return nil, fmt.Errorf("objstore: %w", err)
		}
		b = ps
	case MemoryBackend:
		b = newMemStorage()
	default:
		return nil, fmt.Errorf("objstore: %w: unknown backend %v", ErrInvalidOptions, opt.Backend)
	}
	s := newObjectStore(b, opt)
	s.path = path
	if s.verbose {
		s.logger.Debug("objstore: opened", "path", path, "backend", opt.Backend.String(), "compression", opt.Compression.String())
	}
	return s, nil
}

// OpenMemory returns a transient store, handy for tests.
func OpenMemory(opt Options) *ObjectStore {
	opt.normalize()
	return newObjectStore(newMemStorage(), opt)
}

func newObjectStore(b backend, opt Options) *ObjectStore {
	return &ObjectStore{
		backend:     b,
		pins:        make(map[Address]*StoredObject),
		compression: opt.Compression,
		maxRecord:   opt.MaxRecordSize,
		logger:      opt.Logger,
		verbose:     opt.Verbose,
	}
}

func (s *ObjectStore) Path() string {
	return s.path
}

func (s *ObjectStore) Logger() *slog.Logger {
	return s.logger
}

// Insert stores a new record and returns its address. The record is not
// pinned.
func (s *ObjectStore) Insert(kind Kind, body []byte) (Address, error) {
	frame := encodeFrame(frameBytesPool.Get().([]byte), s.compression, kind, body)
	defer releaseFrameBytes(frame)
	if len(frame) > s.maxRecord {
		return NilAddress, storeErr("insert", NilAddress, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(frame)))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return NilAddress, storeErr("insert", NilAddress, ErrClosed)
	}
	addr, err := s.backend.Allocate(frame)
	if err != nil {
		return NilAddress, storeErr("insert", NilAddress, err)
	}
	if addr.IsNil() || s.pins[addr] != nil {
		panic(fmt.Errorf("objstore: backend returned address %v which is nil or in use", addr))
	}
	s.InsertCount.Add(1)
	return addr, nil
}

// Acquire loads the record at addr and pins it.
func (s *ObjectStore) Acquire(addr Address) (*StoredObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storeErr("acquire", addr, ErrClosed)
	}
	if s.pins[addr] != nil {
		return nil, storeErr("acquire", addr, ErrAlreadyPinned)
	}
	frame, err := s.backend.Read(addr)
	if err != nil {
		return nil, storeErr("acquire", addr, err)
	}
	kind, body, err := decodeFrame(frame)
	if err != nil {
		return nil, storeErr("acquire", addr, fmt.Errorf("%w: %w", ErrCorrupt, err))
	}
	obj := &StoredObject{
		store:  s,
		addr:   addr,
		kind:   kind,
		body:   body,
		pinned: true,
	}
	s.pins[addr] = obj
	s.AcquireCount.Add(1)
	return obj, nil
}

// Release writes obj back if it was modified and unpins it. The pin is
// cleared even when the write fails, so a failed flush never leaves an
// address permanently unacquirable; the modifications are lost in that case.
func (s *ObjectStore) Release(obj *StoredObject) error {
	return s.ReleaseAll(obj)
}

// ReleaseAll is Release for several objects at once, writing them back as a
// unit: either every modified object is written or none is. Encoding and
// size checks happen before anything is written. All pins are cleared in both
// cases.
func (s *ObjectStore) ReleaseAll(objs ...*StoredObject) error {
	var writes []recordWrite
	defer func() {
		for _, w := range writes {
			releaseFrameBytes(w.frame)
		}
	}()
	var err error
	for _, obj := range objs {
		if obj == nil || !obj.dirty {
			continue
		}
		frame := encodeFrame(frameBytesPool.Get().([]byte), s.compression, obj.kind, obj.body)
		writes = append(writes, recordWrite{obj.addr, frame})
		if len(frame) > s.maxRecord && err == nil {
			err = storeErr("release", obj.addr, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(frame)))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, obj := range objs {
		if e := s.unpinLocked(obj); e != nil && err == nil {
			err = e
		}
	}
	if err != nil {
		return err
	}
	if s.closed {
		return storeErr("release", NilAddress, ErrClosed)
	}
	if len(writes) == 0 {
		return nil
	}
	if err := s.backend.WriteAll(writes); err != nil {
		addr := NilAddress
		if len(writes) == 1 {
			addr = writes[0].addr
		}
		return storeErr("release", addr, err)
	}
	for _, obj := range objs {
		obj.dirty = false
	}
	return nil
}

// unpin releases obj without writing it back, discarding its modifications.
func (s *ObjectStore) unpin(obj *StoredObject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unpinLocked(obj)
}

func (s *ObjectStore) unpinLocked(obj *StoredObject) error {
	if obj == nil {
		return storeErr("release", NilAddress, ErrNotPinned)
	}
	if obj.store != s || s.pins[obj.addr] != obj {
		return storeErr("release", obj.addr, ErrNotPinned)
	}
	delete(s.pins, obj.addr)
	obj.pinned = false
	obj.dirty = false
	s.ReleaseCount.Add(1)
	return nil
}

// Remove permanently deletes the record at addr, which must not be pinned.
func (s *ObjectStore) Remove(addr Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storeErr("remove", addr, ErrClosed)
	}
	if s.pins[addr] != nil {
		return storeErr("remove", addr, ErrStillPinned)
	}
	if err := s.backend.Delete(addr); err != nil {
		return storeErr("remove", addr, err)
	}
	s.RemoveCount.Add(1)
	return nil
}

func (s *ObjectStore) IsPinned(addr Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins[addr] != nil
}

func (s *ObjectStore) PinnedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pins)
}

// Close closes the backend. Objects still pinned are unpinned without being
// written; the first of them is reported in the returned error.
func (s *ObjectStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var pinErr error
	for addr, obj := range s.pins {
		obj.pinned = false
		if pinErr == nil {
			pinErr = storeErr("close", addr, ErrStillPinned)
		}
	}
	clear(s.pins)
	err := s.backend.Close()
	if err != nil {
		err = storeErr("close", NilAddress, err)
	}
	return errors.Join(err, pinErr)
}
