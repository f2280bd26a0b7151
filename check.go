package objstore

import (
	"fmt"
)

// Check verifies the structure of the whole tree: key order within nodes and
// subtrees, occupancy bounds, uniform leaf depth, the leaf chain and the
// entry count kept by the anchor. It returns an error wrapping ErrInvariant
// for the first violation found.
func (idx *Index) Check() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return err
	}
	if err := idx.check(); err != nil {
		return idx.errf(nil, err, "check")
	}
	return nil
}

func (idx *Index) check() error {
	st, err := idx.readAnchor()
	if err != nil {
		return err
	}
	if st.root.IsNil() {
		if st.count != 0 {
			return fmt.Errorf("%w: empty tree but anchor counts %d entries", ErrInvariant, st.count)
		}
		return nil
	}

	var (
		leafDepth = -1
		leaves    []Address
		nexts     []Address
		entries   uint64
		minSize   = st.order / 2
	)
	err = idx.walk(st.root, 0, nil, nil, func(node *indexNode, depth int, lower, upper []byte) error {
		addr, n := node.addr(), node.size()

		if n > st.order {
			return fmt.Errorf("%w: node %v has %d entries, order is %d", ErrInvariant, addr, n, st.order)
		}
		if depth == 0 {
			if n == 0 {
				return fmt.Errorf("%w: root %v is empty", ErrInvariant, addr)
			}
		} else if n < minSize {
			return fmt.Errorf("%w: node %v has %d entries, minimum is %d", ErrInvariant, addr, n, minSize)
		}
		for i := 1; i < n; i++ {
			if idx.cmp(node.keys[i-1], node.keys[i]) >= 0 {
				return fmt.Errorf("%w: node %v keys %d and %d are out of order", ErrInvariant, addr, i-1, i)
			}
		}

		if !node.leaf {
			return nil
		}
		if len(node.values) != n {
			return fmt.Errorf("%w: leaf %v has %d keys and %d values", ErrInvariant, addr, n, len(node.values))
		}
		for i, k := range node.keys {
			if lower != nil && idx.cmp(k, lower) < 0 {
				return fmt.Errorf("%w: leaf %v key %d is below its subtree bound", ErrInvariant, addr, i)
			}
			if upper != nil && idx.cmp(k, upper) >= 0 {
				return fmt.Errorf("%w: leaf %v key %d is above its subtree bound", ErrInvariant, addr, i)
			}
		}
		if leafDepth < 0 {
			leafDepth = depth
		} else if depth != leafDepth {
			return fmt.Errorf("%w: leaf %v at depth %d, others at %d", ErrInvariant, addr, depth, leafDepth)
		}
		leaves = append(leaves, addr)
		nexts = append(nexts, node.next)
		entries += uint64(n)
		return nil
	})
	if err != nil {
		return err
	}

	for i, next := range nexts {
		want := NilAddress
		if i+1 < len(leaves) {
			want = leaves[i+1]
		}
		if next != want {
			return fmt.Errorf("%w: leaf %v links to %v, wanted %v", ErrInvariant, leaves[i], next, want)
		}
	}
	if entries != st.count {
		return fmt.Errorf("%w: tree holds %d entries, anchor counts %d", ErrInvariant, entries, st.count)
	}
	return nil
}
