package objstore

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// IndexedStore manages named indexes and binary objects on top of an
// ObjectStore.
//
// The record at address 1 is the store context. It points at the directory, an
// index mapping each index name to the address of its anchor, so there is
// exactly one live anchor per name.
type IndexedStore struct {
	store     *ObjectStore
	ops       objectOps
	directory *Index
	created   time.Time

	mu      sync.Mutex
	indexes map[string]*Index
}

// OpenIndexed opens the ObjectStore at path and then the IndexedStore in it.
func OpenIndexed(path string, opt Options) (*IndexedStore, error) {
	store, err := Open(path, opt)
	if err != nil {
		return nil, err
	}
	s, err := OpenIndexedStore(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return s, nil
}

// OpenIndexedStore reads the store context, creating it (together with an
// empty directory) when store is empty.
func OpenIndexedStore(store *ObjectStore) (*IndexedStore, error) {
	s := &IndexedStore{
		store:   store,
		ops:     objectOps{store},
		indexes: make(map[string]*Index),
	}

	ctx, err := s.ops.acquireContext(contextAddress)
	if isUnknownAddress(err) {
		ctx, err = s.bootstrap()
		if err != nil {
			return nil, fmt.Errorf("objstore: initialize: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("objstore: open: %w", err)
	}
	dir, created := ctx.directory, ctx.created
	if err := s.ops.release(ctx); err != nil {
		return nil, fmt.Errorf("objstore: open: %w", err)
	}
	if dir.IsNil() {
		return nil, fmt.Errorf("objstore: open: %w: context has no directory", ErrCorrupt)
	}

	s.directory = newIndex(s.ops, "", dir, bytes.Compare)
	s.created = created
	if store.verbose {
		store.logger.Debug("objstore: indexed store opened", addrAttr("directory", dir), "created", created)
	}
	return s, nil
}

func isUnknownAddress(err error) bool {
	var e *IndexedStoreError
	return errors.As(err, &e) && errors.Is(e.Cause, ErrUnknownAddress)
}

// bootstrap writes the context and the directory anchor into an empty store
// and returns the context pinned.
func (s *IndexedStore) bootstrap() (*storeContext, error) {
	if n := s.store.Stats().Records; n != 0 {
		return nil, fmt.Errorf("%w: store holds %d records but no context", ErrCorrupt, n)
	}
	ctxAddr, err := s.ops.insertObject(&storeContext{
		version: contextVersion,
		created: time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		return nil, err
	}
	if ctxAddr != contextAddress {
		_ = s.ops.removeObject(ctxAddr)
		return nil, fmt.Errorf("%w: context stored at %v instead of %v", ErrCorrupt, ctxAddr, contextAddress)
	}

	dirAddr, err := s.ops.insertObject(newIndexAnchor("", DefaultOrder, Reject))
	if err != nil {
		return nil, err
	}
	ctx, err := s.ops.acquireContext(ctxAddr)
	if err != nil {
		return nil, err
	}
	ctx.directory = dirAddr
	if err := s.ops.release(ctx); err != nil {
		return nil, err
	}
	s.store.logger.Info("objstore: initialized new indexed store", "path", s.store.Path(), addrAttr("directory", dirAddr))
	return s.ops.acquireContext(ctxAddr)
}

func (s *IndexedStore) Store() *ObjectStore {
	return s.store
}

// Created returns when the store was initialized, to a second.
func (s *IndexedStore) Created() time.Time {
	return s.created
}

func (s *IndexedStore) Close() error {
	return s.store.Close()
}

// CreateIndex creates a new empty index. It fails with ErrIndexExists if the
// name is taken.
func (s *IndexedStore) CreateIndex(name string, opt IndexOptions) (*Index, error) {
	if name == "" {
		return nil, indexErrf(name, nil, ErrInvalidOptions, "empty index name")
	}
	if err := opt.normalize(); err != nil {
		return nil, indexErrf(name, nil, err, "create")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createIndex(name, opt)
}

func (s *IndexedStore) createIndex(name string, opt IndexOptions) (*Index, error) {
	found, err := s.directory.Contains([]byte(name))
	if err != nil {
		return nil, indexErrf(name, nil, err, "create")
	}
	if found {
		return nil, indexErrf(name, nil, ErrIndexExists, "create")
	}

	addr, err := s.ops.insertObject(newIndexAnchor(name, opt.Order, opt.Duplicates))
	if err != nil {
		return nil, indexErrf(name, nil, err, "create")
	}
	if err := s.directory.Insert([]byte(name), addr.bytes()); err != nil {
		_ = s.ops.removeObject(addr)
		if errors.Is(err, ErrDuplicateKey) {
			err = ErrIndexExists
		}
		return nil, indexErrf(name, nil, err, "create")
	}

	idx := newIndex(s.ops, name, addr, opt.Compare)
	s.indexes[name] = idx
	s.store.logger.Info("objstore: index created", "index", name, addrAttr("anchor", addr), "order", opt.Order, "duplicates", opt.Duplicates.String())
	return idx, nil
}

// OpenIndex returns an existing index. Only opt.Compare is used; order and
// duplicate policy come from the stored anchor.
func (s *IndexedStore) OpenIndex(name string, opt IndexOptions) (*Index, error) {
	if opt.Compare == nil {
		opt.Compare = bytes.Compare
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openIndex(name, opt)
}

func (s *IndexedStore) openIndex(name string, opt IndexOptions) (*Index, error) {
	if idx := s.indexes[name]; idx != nil {
		return idx, nil
	}
	if name == "" {
		return nil, indexErrf(name, nil, ErrIndexNotFound, "open")
	}
	raw, found, err := s.directory.Lookup([]byte(name))
	if err != nil {
		return nil, indexErrf(name, nil, err, "open")
	}
	if !found {
		return nil, indexErrf(name, nil, ErrIndexNotFound, "open")
	}
	addr, err := addressFromBytes(raw)
	if err != nil {
		return nil, indexErrf(name, nil, fmt.Errorf("%w: %w", ErrCorrupt, err), "directory entry")
	}

	anchor, err := s.ops.acquireAnchor(addr)
	if err != nil {
		return nil, indexErrf(name, nil, err, "open")
	}
	anchorName := anchor.name
	if err := s.ops.release(anchor); err != nil {
		return nil, indexErrf(name, nil, err, "open")
	}
	if anchorName != name {
		return nil, indexErrf(name, nil, ErrCorrupt, "directory points at anchor %v of index %q", addr, anchorName)
	}

	idx := newIndex(s.ops, name, addr, opt.Compare)
	s.indexes[name] = idx
	return idx, nil
}

// EnsureIndex opens the index, creating it first if needed.
func (s *IndexedStore) EnsureIndex(name string, opt IndexOptions) (*Index, error) {
	if err := opt.normalize(); err != nil {
		return nil, indexErrf(name, nil, err, "ensure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.openIndex(name, opt)
	if errors.Is(err, ErrIndexNotFound) && name != "" {
		return s.createIndex(name, opt)
	}
	return idx, err
}

// DropIndex removes the index with all of its nodes. *Index values referring
// to it fail with ErrIndexNotFound afterwards.
func (s *IndexedStore) DropIndex(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, err := s.openIndex(name, IndexOptions{Compare: bytes.Compare})
	if err != nil {
		return err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	st, err := idx.readAnchor()
	if err != nil {
		return idx.errf(nil, err, "drop")
	}
	var nodes []Address
	if !st.root.IsNil() {
		err = idx.walk(st.root, 0, nil, nil, func(node *indexNode, depth int, lower, upper []byte) error {
			nodes = append(nodes, node.addr())
			return nil
		})
		if err != nil {
			return idx.errf(nil, err, "drop")
		}
	}

	// Unlink first; a failure below only leaks records.
	if _, err := s.directory.Remove([]byte(name)); err != nil {
		return idx.errf(nil, err, "drop")
	}
	idx.dropped = true
	delete(s.indexes, name)

	var freeErr error
	for _, addr := range nodes {
		freeErr = firstErr(freeErr, s.ops.removeObject(addr))
	}
	freeErr = firstErr(freeErr, s.ops.removeObject(idx.anchor))
	if freeErr != nil {
		s.store.logger.Warn("objstore: dropped index left records behind", "index", name, "err", freeErr)
		return idx.errf(nil, freeErr, "drop")
	}
	s.store.logger.Info("objstore: index dropped", "index", name, "nodes", len(nodes))
	return nil
}

// IndexNames lists all indexes in name order.
func (s *IndexedStore) IndexNames() ([]string, error) {
	entries, err := s.directory.Collect(RangeOO())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, string(e.Key))
	}
	return names, nil
}

// CreateObject stores opaque client data and returns its address.
func (s *IndexedStore) CreateObject(data []byte) (Address, error) {
	return s.ops.insertObject(&binaryObject{data: data})
}

// GetObject returns the data of a binary object.
func (s *IndexedStore) GetObject(addr Address) ([]byte, error) {
	b, err := s.ops.acquireBinary(addr)
	if err != nil {
		return nil, err
	}
	data := b.data
	return data, s.ops.release(b)
}

// UpdateObject replaces the data of a binary object; the address stays the
// same.
func (s *IndexedStore) UpdateObject(addr Address, data []byte) error {
	b, err := s.ops.acquireBinary(addr)
	if err != nil {
		return err
	}
	b.data = slices.Clone(data)
	return s.ops.release(b)
}

// RemoveObject deletes a binary object. Addresses of other kinds of records
// are refused with ErrKindMismatch.
func (s *IndexedStore) RemoveObject(addr Address) error {
	b, err := s.ops.acquireBinary(addr)
	if err != nil {
		return err
	}
	s.ops.abandon(b.obj)
	return s.ops.removeObject(addr)
}
