package objstore

import "fmt"

// visitFunc is called for every node of a tree in pre-order. lower and upper
// bound the keys the node may hold (nil means unbounded; lower is
// inclusive, upper exclusive).
type visitFunc func(node *indexNode, depth int, lower, upper []byte) error

// walk visits the subtree at addr. Every node is released before its children
// are visited, so at most one node is pinned at a time.
func (idx *Index) walk(addr Address, depth int, lower, upper []byte, fn visitFunc) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: tree deeper than %d", ErrCorrupt, maxDepth)
	}
	node, err := idx.ops.acquireNode(addr)
	if err != nil {
		return err
	}
	if err := idx.ops.release(node); err != nil {
		return err
	}
	if err := fn(node, depth, lower, upper); err != nil {
		return err
	}
	if node.leaf {
		return nil
	}
	if len(node.children) != len(node.keys)+1 {
		return fmt.Errorf("%w: node %v has %d keys and %d children", ErrInvariant, addr, len(node.keys), len(node.children))
	}
	for i, child := range node.children {
		lo, hi := lower, upper
		if i > 0 {
			lo = node.keys[i-1]
		}
		if i < len(node.keys) {
			hi = node.keys[i]
		}
		if err := idx.walk(child, depth+1, lo, hi, fn); err != nil {
			return err
		}
	}
	return nil
}
