package objstore

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
)

// Range defines a range of keys. The constructors use mnemonics: O means
// open, I means inclusive, E means exclusive; the first letter is for the
// lower bound, the second for the upper bound.
//
// Prefix matching is byte-wise, so it is only meaningful for indexes that use
// the default bytes.Compare order.
type Range struct {
	Prefix   []byte
	Lower    []byte
	Upper    []byte
	LowerInc bool
	UpperInc bool
}

func RangeOO() Range            { return Range{} }
func RangeIO(l []byte) Range    { return Range{Lower: l, LowerInc: true} }
func RangeEO(l []byte) Range    { return Range{Lower: l, LowerInc: false} }
func RangeOI(u []byte) Range    { return Range{Upper: u, UpperInc: true} }
func RangeOE(u []byte) Range    { return Range{Upper: u, UpperInc: false} }
func RangeII(l, u []byte) Range { return Range{Lower: l, Upper: u, LowerInc: true, UpperInc: true} }
func RangeIE(l, u []byte) Range {
	return Range{Lower: l, Upper: u, LowerInc: true, UpperInc: false}
}
func RangeEI(l, u []byte) Range {
	return Range{Lower: l, Upper: u, LowerInc: false, UpperInc: true}
}
func RangeEE(l, u []byte) Range {
	return Range{Lower: l, Upper: u, LowerInc: false, UpperInc: false}
}
func RangePrefix(p []byte) Range           { return Range{Prefix: p} }
func RangeExact(k []byte) Range            { return RangeII(k, k) }
func (rang Range) Prefixed(p []byte) Range { rang.Prefix = p; return rang }

func (rang *Range) seekKey() []byte {
	if rang.Lower != nil {
		if rang.Prefix != nil && bytes.Compare(rang.Lower, rang.Prefix) < 0 {
			return rang.Prefix
		}
		return rang.Lower
	}
	return rang.Prefix
}

// below reports whether k precedes the range.
func (rang *Range) below(k []byte, cmp func(a, b []byte) int) bool {
	if rang.Prefix != nil && bytes.Compare(k, rang.Prefix) < 0 {
		return true
	}
	if rang.Lower == nil {
		return false
	}
	c := cmp(k, rang.Lower)
	return c < 0 || (c == 0 && !rang.LowerInc)
}

// beyond reports whether k and every key after it fall outside the range.
func (rang *Range) beyond(k []byte, cmp func(a, b []byte) int) bool {
	if rang.Prefix != nil && !bytes.HasPrefix(k, rang.Prefix) && bytes.Compare(k, rang.Prefix) > 0 {
		return true
	}
	if rang.Upper != nil {
		c := cmp(k, rang.Upper)
		if c > 0 || (c == 0 && !rang.UpperInc) {
			return true
		}
	}
	return false
}

// Cursor walks an index in key order along the leaf chain. Each leaf is read
// and released under the index lock before its entries are returned, so no
// object stays pinned between calls to Next. Modifications made while a scan
// is in progress may or may not be observed.
type Cursor struct {
	idx   *Index
	rang  Range
	keys  [][]byte
	vals  [][]byte
	pos   int
	next  Address
	last  []byte
	floor []byte
	err   error
	init  bool
	done  bool
}

// Scan returns a cursor over the entries of rang. Call Next before reading the
// first entry.
func (idx *Index) Scan(rang Range) *Cursor {
	return &Cursor{idx: idx, rang: rang, pos: -1}
}

func (c *Cursor) Next() bool {
	if c.done {
		return false
	}
	for {
		c.pos++
		for c.pos >= len(c.keys) {
			if !c.loadLeaf() {
				c.done = true
				c.keys, c.vals = nil, nil
				return false
			}
		}
		k := c.keys[c.pos]
		if c.rang.below(k, c.idx.cmp) || (c.floor != nil && c.idx.cmp(k, c.floor) <= 0) {
			continue
		}
		if c.rang.beyond(k, c.idx.cmp) {
			if c.idx.verbose {
				c.idx.logger.LogAttrs(context.Background(), slog.LevelDebug, "objstore: scan done", slog.String("index", c.idx.String()), hexAttr("beyond", k))
			}
			c.done = true
			c.keys, c.vals = nil, nil
			return false
		}
		return true
	}
}

func (c *Cursor) loadLeaf() bool {
	c.idx.mu.Lock()
	defer c.idx.mu.Unlock()
	if err := c.idx.checkLive(); err != nil {
		c.err = err
		return false
	}

	var addr Address
	if !c.init {
		c.init = true
		leaf, err := c.idx.seekLeaf(c.rang.seekKey())
		if err != nil {
			c.err = c.idx.errf(nil, err, "scan")
			return false
		}
		addr = leaf
	} else {
		addr = c.next
	}
	if addr.IsNil() {
		return false
	}

	node, err := c.idx.ops.acquireNode(addr)
	if err != nil {
		c.err = c.idx.errf(nil, err, "scan")
		return false
	}
	if !node.leaf {
		c.idx.ops.abandon(node.obj)
		c.err = c.idx.errf(nil, ErrCorrupt, "leaf chain reaches internal node %v", addr)
		return false
	}
	if err := c.idx.ops.release(node); err != nil {
		c.err = c.idx.errf(nil, err, "scan")
		return false
	}
	if c.idx.verbose {
		c.idx.logger.LogAttrs(context.Background(), slog.LevelDebug, "objstore: scan leaf", slog.String("index", c.idx.String()), addrAttr("leaf", addr), slog.Int("entries", node.size()))
	}
	// Entries may migrate between neighboring leaves while a scan is paused,
	// so keys up to the previous leaf's last one are skipped. A leaf with
	// nothing beyond it means a broken or cyclic chain.
	c.floor = c.last
	if n := node.size(); n > 0 {
		if c.floor != nil && c.idx.cmp(node.keys[n-1], c.floor) <= 0 {
			c.err = c.idx.errf(nil, ErrCorrupt, "leaf %v is out of order", addr)
			return false
		}
		c.last = node.keys[n-1]
	}
	c.keys, c.vals, c.next, c.pos = node.keys, node.values, node.next, 0
	return true
}

// seekLeaf returns the leaf covering key, or the leftmost leaf for a nil key.
func (idx *Index) seekLeaf(key []byte) (Address, error) {
	st, err := idx.readAnchor()
	if err != nil {
		return NilAddress, err
	}
	addr := st.root
	for depth := 0; !addr.IsNil(); depth++ {
		if depth > maxDepth {
			return NilAddress, fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
		}
		node, err := idx.ops.acquireNode(addr)
		if err != nil {
			return NilAddress, err
		}
		if err := idx.ops.release(node); err != nil {
			return NilAddress, err
		}
		if node.leaf {
			return addr, nil
		}
		if key == nil {
			addr = node.children[0]
		} else {
			addr = node.children[node.childIndex(key, idx.cmp)]
		}
	}
	return NilAddress, nil
}

// Key returns the current key. The slice is owned by the caller.
func (c *Cursor) Key() []byte {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil
	}
	return c.keys[c.pos]
}

func (c *Cursor) Value() []byte {
	if c.pos < 0 || c.pos >= len(c.vals) {
		return nil
	}
	return c.vals[c.pos]
}

// Err returns the error that stopped the scan, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Entry is one key/value pair returned by Collect.
type Entry struct {
	Key   []byte
	Value []byte
}

// Collect reads every entry of rang.
func (idx *Index) Collect(rang Range) ([]Entry, error) {
	var result []Entry
	c := idx.Scan(rang)
	for c.Next() {
		result = append(result, Entry{c.Key(), c.Value()})
	}
	return result, c.Err()
}
