package objstore

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// Bytes of a node record not spent on its entries: frame header, kind, flags,
// entry count, and the next link or the extra child of an internal node.
const nodeOverhead = frameHeaderSize + kindWidth + 1 + binary.MaxVarintLen64 + addressWidth

// maxEntrySize is the largest key plus value that still lets a full node of
// the given order fit into one record. Each entry costs two length prefixes
// in a leaf; a separator costs one prefix and a child address, which is less.
func maxEntrySize(maxRecord, order int) int {
	return (maxRecord-nodeOverhead)/order - 2*binary.MaxVarintLen64
}

// Insert adds key with value. Inserting an existing key follows the index's
// DuplicatePolicy.
func (idx *Index) Insert(key, value []byte) error {
	if key == nil {
		key = []byte{}
	}
	if value == nil {
		value = []byte{}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}

	m := &mutation{idx: idx}
	err := idx.insert(m, slices.Clone(key), slices.Clone(value))
	if err != nil {
		m.abort()
		return idx.errf(key, err, "insert")
	}
	if err := m.commit(); err != nil {
		return idx.errf(key, err, "insert")
	}
	return nil
}

func (idx *Index) insert(m *mutation, key, value []byte) error {
	anchor, err := idx.ops.acquireAnchor(idx.anchor)
	if err != nil {
		return err
	}
	m.anchor = anchor

	if size, limit := len(key)+len(value), maxEntrySize(idx.ops.store.maxRecord, anchor.order); size > limit {
		return fmt.Errorf("%w: %d bytes, at most %d fit a node of order %d", ErrEntryTooLarge, size, limit, anchor.order)
	}

	if anchor.root.IsNil() {
		root := &indexNode{leaf: true, keys: [][]byte{key}, values: [][]byte{value}}
		addr, err := m.insert(root)
		if err != nil {
			return err
		}
		anchor.setRootNodeAddress(addr)
		anchor.count++
		idx.logStructure("root created", addrAttr("root", addr))
		return nil
	}

	m.path, err = idx.descend(anchor.root, key, m.path)
	if err != nil {
		return err
	}

	leaf := m.path[len(m.path)-1].node
	i, found := leaf.search(key, idx.cmp)
	if found {
		if anchor.policy == Reject {
			return ErrDuplicateKey
		}
		leaf.values[i] = value
		return nil
	}
	leaf.insertEntry(i, key, value)
	anchor.count++

	return idx.splitOverflow(m, anchor.order)
}

// splitOverflow splits nodes on the pinned path bottom-up while they exceed
// the order. A root split adds a level and repoints the anchor.
func (idx *Index) splitOverflow(m *mutation, order int) error {
	for level := len(m.path) - 1; level >= 0; level-- {
		node := m.path[level].node
		if node.size() <= order {
			return nil
		}

		sep, right := splitNode(node)
		rightAddr, err := m.insert(right)
		if err != nil {
			return err
		}
		if node.leaf {
			node.next = rightAddr
		}
		idx.logStructure("node split", addrAttr("node", node.addr()), addrAttr("right", rightAddr), hexAttr("separator", sep))

		if level == 0 {
			root := &indexNode{
				keys:     [][]byte{sep},
				children: []Address{node.addr(), rightAddr},
			}
			rootAddr, err := m.insert(root)
			if err != nil {
				return err
			}
			m.anchor.setRootNodeAddress(rootAddr)
			idx.logStructure("root split", addrAttr("root", rootAddr))
			return nil
		}

		parent := m.path[level-1]
		parent.node.keys = insertAt(parent.node.keys, parent.pos, sep)
		parent.node.children = insertAt(parent.node.children, parent.pos+1, rightAddr)
	}
	return nil
}

// splitNode moves the upper half of node into a new, not yet stored node and
// returns the separator to insert into the parent. Leaves copy the first right
// key up; internal nodes move their middle key up.
func splitNode(node *indexNode) ([]byte, *indexNode) {
	n := node.size()
	mid := n / 2
	right := &indexNode{leaf: node.leaf}
	if node.leaf {
		right.keys = slices.Clone(node.keys[mid:])
		right.values = slices.Clone(node.values[mid:])
		right.next = node.next
		node.keys = slices.Clip(node.keys[:mid])
		node.values = slices.Clip(node.values[:mid])
		return right.keys[0], right
	}
	sep := node.keys[mid]
	right.keys = slices.Clone(node.keys[mid+1:])
	right.children = slices.Clone(node.children[mid+1:])
	node.keys = slices.Clip(node.keys[:mid])
	node.children = slices.Clip(node.children[:mid+1])
	return sep, right
}
