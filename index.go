package objstore

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
)

// DuplicatePolicy decides what inserting an existing key into an index does.
// It is fixed when the index is created.
type DuplicatePolicy uint8

const (
	// Overwrite replaces the value of an existing key (last writer wins).
	Overwrite DuplicatePolicy = iota

	// Reject fails the insert with ErrDuplicateKey. Use it for set-like
	// indexes; for multi-value indexes, make keys unique by appending the
	// value (or a sequence number) to them.
	Reject
)

func (p DuplicatePolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

const (
	DefaultOrder = 32
	minOrder     = 3
	maxOrder     = 1 << 16

	// maxDepth bounds every descent, so a corrupted tree with a cycle fails
	// instead of looping.
	maxDepth = 64
)

type IndexOptions struct {
	// Order is the maximum number of entries per node (M). Only used when
	// the index is created; defaults to DefaultOrder.
	Order int

	// Duplicates is only used when the index is created.
	Duplicates DuplicatePolicy

	// Compare defines the key order; bytes.Compare by default. It must be a
	// total order and the same function must be used every time the index
	// is opened.
	Compare func(a, b []byte) int
}

func (o *IndexOptions) normalize() error {
	if o.Order == 0 {
		o.Order = DefaultOrder
	}
	if o.Order < minOrder || o.Order > maxOrder {
		return fmt.Errorf("%w: order %d out of range [%d, %d]", ErrInvalidOptions, o.Order, minOrder, maxOrder)
	}
	if o.Duplicates != Overwrite && o.Duplicates != Reject {
		return fmt.Errorf("%w: unknown duplicate policy %v", ErrInvalidOptions, o.Duplicates)
	}
	if o.Compare == nil {
		o.Compare = bytes.Compare
	}
	return nil
}

// Index is a B+tree reachable through a named anchor. Values live in leaves;
// internal nodes only route. All operations on one Index are serialized by
// its mutex; the store lock is only taken per acquire/release/insert/remove.
type Index struct {
	ops     objectOps
	name    string
	anchor  Address
	cmp     func(a, b []byte) int
	logger  *slog.Logger
	verbose bool

	mu      sync.Mutex
	dropped bool
}

func newIndex(ops objectOps, name string, anchor Address, cmp func(a, b []byte) int) *Index {
	return &Index{
		ops:     ops,
		name:    name,
		anchor:  anchor,
		cmp:     cmp,
		logger:  ops.store.logger,
		verbose: ops.store.verbose,
	}
}

func (idx *Index) Name() string {
	return idx.name
}

// AnchorAddress is the stable address of the index's anchor.
func (idx *Index) AnchorAddress() Address {
	return idx.anchor
}

func (idx *Index) String() string {
	if idx.name == "" {
		return "<directory>"
	}
	return idx.name
}

func (idx *Index) errf(key []byte, err error, format string, args ...any) error {
	return indexErrf(idx.String(), key, err, format, args...)
}

func (idx *Index) checkLive() error {
	if idx.dropped {
		return idx.errf(nil, ErrIndexNotFound, "dropped")
	}
	return nil
}

type anchorState struct {
	root   Address
	order  int
	policy DuplicatePolicy
	count  uint64
}

// readAnchor resolves the anchor without keeping it pinned.
func (idx *Index) readAnchor() (anchorState, error) {
	a, err := idx.ops.acquireAnchor(idx.anchor)
	if err != nil {
		return anchorState{}, err
	}
	st := anchorState{a.root, a.order, a.policy, a.count}
	return st, idx.ops.release(a)
}

// Lookup returns the value stored under key. No node stays pinned afterwards.
func (idx *Index) Lookup(key []byte) ([]byte, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return nil, false, err
	}
	v, found, err := idx.lookup(key)
	if err != nil {
		return nil, false, idx.errf(key, err, "lookup")
	}
	return v, found, nil
}

func (idx *Index) lookup(key []byte) ([]byte, bool, error) {
	st, err := idx.readAnchor()
	if err != nil {
		return nil, false, err
	}
	addr := st.root
	for depth := 0; !addr.IsNil(); depth++ {
		if depth > maxDepth {
			return nil, false, fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
		}
		node, err := idx.ops.acquireNode(addr)
		if err != nil {
			return nil, false, err
		}
		if node.leaf {
			var value []byte
			i, found := node.search(key, idx.cmp)
			if found {
				value = node.values[i]
			}
			return value, found, idx.ops.release(node)
		}
		addr = node.children[node.childIndex(key, idx.cmp)]
		if err := idx.ops.release(node); err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// Contains reports whether key is present.
func (idx *Index) Contains(key []byte) (bool, error) {
	_, found, err := idx.Lookup(key)
	return found, err
}

// Len returns the number of entries.
func (idx *Index) Len() (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return 0, err
	}
	st, err := idx.readAnchor()
	if err != nil {
		return 0, idx.errf(nil, err, "len")
	}
	return int(st.count), nil
}

// Order returns the maximum number of entries per node.
func (idx *Index) Order() (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return 0, err
	}
	st, err := idx.readAnchor()
	if err != nil {
		return 0, idx.errf(nil, err, "order")
	}
	return st.order, nil
}

// RootAddress returns the current root node, or NilAddress for an empty index.
func (idx *Index) RootAddress() (Address, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return NilAddress, err
	}
	st, err := idx.readAnchor()
	if err != nil {
		return NilAddress, idx.errf(nil, err, "root")
	}
	return st.root, nil
}

// First returns the smallest entry.
func (idx *Index) First() (key, value []byte, found bool, err error) {
	return idx.edge(false)
}

// Last returns the largest entry.
func (idx *Index) Last() (key, value []byte, found bool, err error) {
	return idx.edge(true)
}

func (idx *Index) edge(last bool) ([]byte, []byte, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return nil, nil, false, err
	}
	st, err := idx.readAnchor()
	if err != nil {
		return nil, nil, false, idx.errf(nil, err, "edge")
	}
	addr := st.root
	for depth := 0; !addr.IsNil(); depth++ {
		if depth > maxDepth {
			return nil, nil, false, idx.errf(nil, ErrCorrupt, "tree deeper than %d", maxDepth)
		}
		node, err := idx.ops.acquireNode(addr)
		if err != nil {
			return nil, nil, false, idx.errf(nil, err, "edge")
		}
		if err := idx.ops.release(node); err != nil {
			return nil, nil, false, idx.errf(nil, err, "edge")
		}
		if node.leaf {
			if node.size() == 0 {
				return nil, nil, false, nil
			}
			i := 0
			if last {
				i = node.size() - 1
			}
			return node.keys[i], node.values[i], true, nil
		}
		if last {
			addr = node.children[len(node.children)-1]
		} else {
			addr = node.children[0]
		}
	}
	return nil, nil, false, nil
}

// pathStep is one pinned node on the root-to-leaf path of a mutation; pos is
// the child taken from it.
type pathStep struct {
	node *indexNode
	pos  int
}

// descend pins every node from root down to the leaf covering key.
func (idx *Index) descend(root Address, key []byte, path []pathStep) ([]pathStep, error) {
	addr := root
	for {
		if len(path) > maxDepth {
			return path, fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
		}
		node, err := idx.ops.acquireNode(addr)
		if err != nil {
			return path, err
		}
		if !node.leaf && len(node.children) == 0 {
			path = append(path, pathStep{node: node})
			return path, fmt.Errorf("%w: internal node %v has no children", ErrCorrupt, addr)
		}
		if node.leaf {
			return append(path, pathStep{node: node}), nil
		}
		pos := node.childIndex(key, idx.cmp)
		path = append(path, pathStep{node: node, pos: pos})
		addr = node.children[pos]
	}
}

// mutation tracks everything pinned or created by one insert/remove, so it can
// be flushed or abandoned as a unit.
type mutation struct {
	idx      *Index
	anchor   *indexAnchor
	path     []pathStep
	siblings []*indexNode
	created  []Address
	doomed   map[Address]bool
}

func (m *mutation) doom(addr Address) {
	if m.doomed == nil {
		m.doomed = make(map[Address]bool)
	}
	m.doomed[addr] = true
}

func (m *mutation) insert(node *indexNode) (Address, error) {
	addr, err := m.idx.ops.insertObject(node)
	if err != nil {
		return NilAddress, err
	}
	m.created = append(m.created, addr)
	return addr, nil
}

func (m *mutation) pinned() []*indexNode {
	nodes := make([]*indexNode, 0, len(m.path)+len(m.siblings))
	for i := len(m.path) - 1; i >= 0; i-- {
		nodes = append(nodes, m.path[i].node)
	}
	return append(nodes, m.siblings...)
}

// commit writes back every surviving node and the anchor as one unit, then
// deletes the nodes that were merged away. If the write fails, nothing is
// written and the mutation is aborted.
func (m *mutation) commit() error {
	ops := m.idx.ops
	objs := make([]storeObject, 0, len(m.path)+len(m.siblings)+1)
	for _, node := range m.pinned() {
		if m.doomed[node.addr()] {
			ops.abandon(node.obj)
		} else {
			objs = append(objs, node)
		}
	}
	if m.anchor != nil {
		objs = append(objs, m.anchor)
	}
	if err := ops.releaseAll(objs...); err != nil {
		m.abort()
		return err
	}

	// The tree no longer references doomed nodes, so failing to remove one
	// only leaks a record.
	for addr := range m.doomed {
		if err := ops.removeObject(addr); err != nil {
			m.idx.logger.Warn("objstore: failed to remove merged node", "index", m.idx.String(), addrAttr("addr", addr), "err", err)
		}
	}
	return nil
}

// abort unpins everything without writing and deletes nodes created so far,
// leaving the durable tree as it was.
func (m *mutation) abort() {
	ops := m.idx.ops
	for _, node := range m.pinned() {
		if node != nil {
			ops.abandon(node.obj)
		}
	}
	if m.anchor != nil {
		ops.abandon(m.anchor.obj)
	}
	for _, addr := range m.created {
		if err := ops.removeObject(addr); err != nil {
			m.idx.logger.Warn("objstore: failed to remove orphaned node", "index", m.idx.String(), addrAttr("addr", addr), "err", err)
		}
	}
	m.created = nil
}

func (idx *Index) logStructure(msg string, attrs ...any) {
	if idx.verbose {
		idx.logger.Debug("objstore: "+msg, append([]any{"index", idx.String()}, attrs...)...)
	}
}
