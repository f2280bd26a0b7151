package objstore

import (
	"fmt"
)

// Remove deletes key, reporting whether it was present.
func (idx *Index) Remove(key []byte) (bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return false, err
	}

	m := &mutation{idx: idx}
	found, err := idx.remove(m, key)
	if err != nil {
		m.abort()
		return false, idx.errf(key, err, "remove")
	}
	if err := m.commit(); err != nil {
		return false, idx.errf(key, err, "remove")
	}
	return found, nil
}

func (idx *Index) remove(m *mutation, key []byte) (bool, error) {
	anchor, err := idx.ops.acquireAnchor(idx.anchor)
	if err != nil {
		return false, err
	}
	m.anchor = anchor
	if anchor.root.IsNil() {
		return false, nil
	}

	m.path, err = idx.descend(anchor.root, key, m.path)
	if err != nil {
		return false, err
	}
	leaf := m.path[len(m.path)-1].node
	i, found := leaf.search(key, idx.cmp)
	if !found {
		return false, nil
	}
	leaf.removeEntry(i)
	if anchor.count > 0 {
		anchor.count--
	}

	return true, idx.fixUnderflow(m, anchor.order)
}

// fixUnderflow restores minimum occupancy bottom-up along the pinned path by
// borrowing from or merging with a sibling. Merges may propagate to the root,
// which is dropped when it is left with a single child (or with nothing).
func (idx *Index) fixUnderflow(m *mutation, order int) error {
	minSize := order / 2
	for level := len(m.path) - 1; level >= 0; level-- {
		node := m.path[level].node

		if level == 0 {
			if node.size() > 0 {
				return nil
			}
			if node.leaf {
				m.anchor.setRootNodeAddress(NilAddress)
				idx.logStructure("index emptied", addrAttr("root", node.addr()))
			} else {
				m.anchor.setRootNodeAddress(node.children[0])
				idx.logStructure("root collapsed", addrAttr("old", node.addr()), addrAttr("root", node.children[0]))
			}
			m.doom(node.addr())
			return nil
		}

		if node.size() >= minSize {
			return nil
		}
		parent := m.path[level-1]
		merged, err := idx.rebalance(m, parent.node, parent.pos, node, minSize)
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
	}
	return nil
}

// rebalance fixes an underfull node at position pos of parent. It reports
// whether a merge removed an entry from parent.
func (idx *Index) rebalance(m *mutation, parent *indexNode, pos int, node *indexNode, minSize int) (bool, error) {
	var left, right *indexNode
	var err error

	if pos > 0 {
		left, err = idx.ops.acquireNode(parent.children[pos-1])
		if err != nil {
			return false, err
		}
		m.siblings = append(m.siblings, left)
		if left.leaf != node.leaf {
			return false, fmt.Errorf("%w: siblings %v and %v differ in kind", ErrCorrupt, left.addr(), node.addr())
		}
		if left.size() > minSize {
			borrowFromLeft(parent, pos, left, node)
			idx.logStructure("borrowed from left", addrAttr("node", node.addr()), addrAttr("left", left.addr()))
			return false, nil
		}
	}
	if pos < len(parent.children)-1 {
		right, err = idx.ops.acquireNode(parent.children[pos+1])
		if err != nil {
			return false, err
		}
		m.siblings = append(m.siblings, right)
		if right.leaf != node.leaf {
			return false, fmt.Errorf("%w: siblings %v and %v differ in kind", ErrCorrupt, node.addr(), right.addr())
		}
		if right.size() > minSize {
			borrowFromRight(parent, pos, node, right)
			idx.logStructure("borrowed from right", addrAttr("node", node.addr()), addrAttr("right", right.addr()))
			return false, nil
		}
	}

	switch {
	case left != nil:
		mergeNodes(parent, pos-1, left, node)
		m.doom(node.addr())
		idx.logStructure("merged into left", addrAttr("node", node.addr()), addrAttr("left", left.addr()))
	case right != nil:
		mergeNodes(parent, pos, node, right)
		m.doom(right.addr())
		idx.logStructure("merged right", addrAttr("node", node.addr()), addrAttr("right", right.addr()))
	default:
		return false, fmt.Errorf("%w: node %v has no siblings", ErrCorrupt, node.addr())
	}
	return true, nil
}

func borrowFromLeft(parent *indexNode, pos int, left, node *indexNode) {
	last := left.size() - 1
	if node.leaf {
		node.insertEntry(0, left.keys[last], left.values[last])
		left.removeEntry(last)
		parent.keys[pos-1] = node.keys[0]
		return
	}
	node.keys = insertAt(node.keys, 0, parent.keys[pos-1])
	node.children = insertAt(node.children, 0, left.children[last+1])
	parent.keys[pos-1] = left.keys[last]
	left.keys = removeAt(left.keys, last)
	left.children = removeAt(left.children, last+1)
}

func borrowFromRight(parent *indexNode, pos int, node, right *indexNode) {
	if node.leaf {
		node.insertEntry(node.size(), right.keys[0], right.values[0])
		right.removeEntry(0)
		parent.keys[pos] = right.keys[0]
		return
	}
	node.keys = append(node.keys, parent.keys[pos])
	node.children = append(node.children, right.children[0])
	parent.keys[pos] = right.keys[0]
	right.keys = removeAt(right.keys, 0)
	right.children = removeAt(right.children, 0)
}

// mergeNodes appends right into left and drops their separator, parent.keys[sep],
// together with the pointer to right.
func mergeNodes(parent *indexNode, sep int, left, right *indexNode) {
	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.values = append(left.values, right.values...)
		left.next = right.next
	} else {
		left.keys = append(left.keys, parent.keys[sep])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}
	parent.keys = removeAt(parent.keys, sep)
	parent.children = removeAt(parent.children, sep+1)
}
