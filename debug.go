package objstore

import (
	"fmt"
	"strings"
)

type DumpFlags uint64

const (
	DumpHeader = DumpFlags(1 << iota)
	DumpStats
	DumpNodes
	DumpEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)

	indentStep = "  "
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// Dump renders the tree for debugging. Errors are rendered inline.
func (idx *Index) Dump(f DumpFlags) string {
	var buf strings.Builder
	idx.dump(&buf, f)
	return buf.String()
}

func (idx *Index) dump(w *strings.Builder, f DumpFlags) {
	if f.Contains(DumpStats) {
		s, err := idx.Stats()
		if err != nil {
			fmt.Fprintf(w, "%s ** ERROR: %v\n", idx, err)
			return
		}
		if f.Contains(DumpHeader) {
			fmt.Fprintln(w, dumpSep1)
			fmt.Fprintf(w, "%s (%d entries)\n", idx, s.Entries)
		}
		fmt.Fprintf(w, "%s.stats: order = %d, height = %d, nodes = %d, leaves = %d, fill = %.2f, key_bytes = %d, value_bytes = %d\n", idx, s.Order, s.Height, s.Nodes, s.Leaves, s.Fill(), s.KeyBytes, s.ValueBytes)
	} else if f.Contains(DumpHeader) {
		fmt.Fprintln(w, dumpSep1)
		fmt.Fprintf(w, "%s\n", idx)
	}

	if !f.Contains(DumpNodes) && !f.Contains(DumpEntries) {
		return
	}
	if f.Contains(DumpStats) || f.Contains(DumpHeader) {
		fmt.Fprintln(w, dumpSep2)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		fmt.Fprintf(w, "** ERROR: %v\n", err)
		return
	}
	st, err := idx.readAnchor()
	if err != nil {
		fmt.Fprintf(w, "** ERROR: %v\n", err)
		return
	}
	fmt.Fprintf(w, "anchor %v: root = %v, order = %d, duplicates = %v, count = %d\n", idx.anchor, st.root, st.order, st.policy, st.count)
	if st.root.IsNil() {
		return
	}
	err = idx.walk(st.root, 0, nil, nil, func(node *indexNode, depth int, lower, upper []byte) error {
		indent := strings.Repeat(indentStep, depth+1)
		if !node.leaf {
			if f.Contains(DumpNodes) {
				fmt.Fprintf(w, "%snode %v: %s\n", indent, node.addr(), dumpKeys(node.keys))
			}
			return nil
		}
		if f.Contains(DumpNodes) {
			fmt.Fprintf(w, "%sleaf %v (%d) -> %v\n", indent, node.addr(), node.size(), node.next)
		}
		if f.Contains(DumpEntries) {
			for i, k := range node.keys {
				fmt.Fprintf(w, "%s%s%s => %s\n", indent, indentStep, hexstr(k), hexstr(node.values[i]))
			}
		}
		return nil
	})
	if err != nil {
		fmt.Fprintf(w, "** ERROR: %v\n", err)
	}
}

func dumpKeys(keys [][]byte) string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(hexstr(k))
	}
	buf.WriteByte(']')
	return buf.String()
}
