package objstore

import "sort"

const nodeFlagLeaf uint8 = 1

// indexNode is one B-tree node. Leaves hold (key, value) entries and a link
// to the next leaf; internal nodes hold separator keys and len(keys)+1
// children, where every key under children[i] is >= keys[i-1] and < keys[i].
//
// Body: flags:8 n:uvarint key:varbytes*n, then for leaves value:varbytes*n
// next:64, for internal nodes child:64*(n+1).
type indexNode struct {
	obj *StoredObject

	leaf     bool
	keys     [][]byte
	values   [][]byte
	children []Address
	next     Address
}

func decodeNode(so *StoredObject) (*indexNode, error) {
	r := makeFieldReader(so.Body())
	flags, err := r.Uint8()
	if err != nil {
		return nil, err
	}
	n, err := r.Uvarinti()
	if err != nil {
		return nil, err
	}
	if n > r.Remaining() {
		return nil, dataErrf(r.Orig, r.Off(), nil, "node claims %d entries", n)
	}
	node := &indexNode{
		obj:  so,
		leaf: flags&nodeFlagLeaf != 0,
		keys: make([][]byte, n),
	}
	for i := range node.keys {
		if node.keys[i], err = r.VarBytes(); err != nil {
			return nil, err
		}
	}
	if node.leaf {
		node.values = make([][]byte, n)
		for i := range node.values {
			if node.values[i], err = r.VarBytes(); err != nil {
				return nil, err
			}
		}
		if node.next, err = r.Address(); err != nil {
			return nil, err
		}
	} else {
		node.children = make([]Address, n+1)
		for i := range node.children {
			if node.children[i], err = r.Address(); err != nil {
				return nil, err
			}
		}
	}
	if err := r.Done(); err != nil {
		return nil, err
	}
	return node, nil
}

func (n *indexNode) kind() Kind {
	return KindNode
}

func (n *indexNode) stored() *StoredObject {
	if n == nil {
		return nil
	}
	return n.obj
}

func (n *indexNode) encodeBody(w *fieldWriter) {
	var flags uint8
	if n.leaf {
		flags |= nodeFlagLeaf
	}
	w.AppendUint8(flags)
	w.AppendUvarinti(len(n.keys))
	for _, k := range n.keys {
		w.AppendVarBytes(k)
	}
	if n.leaf {
		for _, v := range n.values {
			w.AppendVarBytes(v)
		}
		w.AppendAddress(n.next)
	} else {
		for _, c := range n.children {
			w.AppendAddress(c)
		}
	}
}

func (n *indexNode) addr() Address {
	return n.obj.Address()
}

func (n *indexNode) size() int {
	return len(n.keys)
}

// search returns the position of key in a leaf, or where it would be inserted.
func (n *indexNode) search(key []byte, cmp func(a, b []byte) int) (int, bool) {
	i := sort.Search(len(n.keys), func(i int) bool {
		return cmp(n.keys[i], key) >= 0
	})
	return i, i < len(n.keys) && cmp(n.keys[i], key) == 0
}

// childIndex returns the child of an internal node whose subtree covers key:
// the number of separators <= key.
func (n *indexNode) childIndex(key []byte, cmp func(a, b []byte) int) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return cmp(n.keys[i], key) > 0
	})
}

func (n *indexNode) insertEntry(i int, key, value []byte) {
	n.keys = insertAt(n.keys, i, key)
	n.values = insertAt(n.values, i, value)
}

func (n *indexNode) removeEntry(i int) {
	n.keys = removeAt(n.keys, i)
	n.values = removeAt(n.values, i)
}

func insertAt[T any](s []T, i int, v T) []T {
	var zero T
	s = append(s, zero)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func removeAt[T any](s []T, i int) []T {
	var zero T
	copy(s[i:], s[i+1:])
	s[len(s)-1] = zero
	return s[:len(s)-1]
}
