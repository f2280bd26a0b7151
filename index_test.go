package objstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func setupIndex(t testing.TB, opt IndexOptions) (*IndexedStore, *Index) {
	t.Helper()
	s, err := OpenIndexedStore(setupStore(t, MemoryBackend, Options{}))
	require.NoError(t, err)
	idx, err := s.CreateIndex("test", opt)
	require.NoError(t, err)
	return s, idx
}

func k(v byte) []byte {
	return []byte{v}
}

// shape renders the tree with single-byte keys, e.g. [15]([1 5] [15 20]).
func shape(t testing.TB, idx *Index) string {
	t.Helper()
	root, err := idx.RootAddress()
	require.NoError(t, err)
	if root.IsNil() {
		return "()"
	}
	return shapeOf(t, idx, root)
}

func shapeOf(t testing.TB, idx *Index, addr Address) string {
	node, err := idx.ops.acquireNode(addr)
	require.NoError(t, err)
	require.NoError(t, idx.ops.release(node))

	var keys []string
	for _, key := range node.keys {
		keys = append(keys, fmt.Sprint(key[0]))
	}
	s := "[" + strings.Join(keys, " ") + "]"
	if node.leaf {
		return s
	}
	var children []string
	for _, c := range node.children {
		children = append(children, shapeOf(t, idx, c))
	}
	return s + "(" + strings.Join(children, " ") + ")"
}

func TestIndex_SplitBorrowMergeCollapse(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 4})
	store := s.Store()

	for _, v := range []byte{10, 20, 5, 15, 25, 30, 1} {
		require.NoError(t, idx.Insert(k(v), []byte(fmt.Sprint(v))))
		require.NoError(t, idx.Check())
	}
	require.Equal(t, "[15]([1 5 10] [15 20 25 30])", shape(t, idx))
	require.Equal(t, 0, store.PinnedCount())

	found, err := idx.Remove(k(20))
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, idx.Check())
	require.Equal(t, "[15]([1 5 10] [15 25 30])", shape(t, idx))

	v, found, err := idx.Lookup(k(20))
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, v)
	for _, v := range []byte{1, 5, 10, 15, 25, 30} {
		got, found, err := idx.Lookup(k(v))
		require.NoError(t, err)
		require.True(t, found, "key %d", v)
		require.Equal(t, fmt.Sprint(v), string(got))
	}

	// right leaf underflows and borrows from the left one
	for _, v := range []byte{25, 30} {
		_, err := idx.Remove(k(v))
		require.NoError(t, err)
	}
	require.Equal(t, "[10]([1 5] [10 15])", shape(t, idx))
	require.NoError(t, idx.Check())

	// leftmost leaf merges with its right sibling and the root collapses
	records := store.Stats().Records
	_, err = idx.Remove(k(1))
	require.NoError(t, err)
	require.Equal(t, "[5 10 15]", shape(t, idx))
	require.NoError(t, idx.Check())
	require.Equal(t, records-2, store.Stats().Records)

	for _, v := range []byte{5, 10, 15} {
		found, err := idx.Remove(k(v))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, "()", shape(t, idx))
	root, err := idx.RootAddress()
	require.NoError(t, err)
	require.Equal(t, NilAddress, root)
	require.Equal(t, records-3, store.Stats().Records)
	require.Equal(t, 0, store.PinnedCount())

	n, err := idx.Len()
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, idx.Check())
}

func TestIndex_InternalSplitAndMerge(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 3})
	for v := range byte(40) {
		require.NoError(t, idx.Insert(k(v), k(v)))
		require.NoError(t, idx.Check(), "after inserting %d", v)
	}
	st, err := idx.Stats()
	require.NoError(t, err)
	require.GreaterOrEqual(t, st.Height, 3)
	require.Equal(t, 40, st.Entries)

	for v := range byte(40) {
		found, err := idx.Remove(k(v))
		require.NoError(t, err)
		require.True(t, found)
		require.NoError(t, idx.Check(), "after removing %d", v)
	}
	require.Equal(t, "()", shape(t, idx))
}

func TestIndex_Randomized(t *testing.T) {
	for _, order := range []int{3, 4, 5, 8, DefaultOrder} {
		t.Run(fmt.Sprint(order), func(t *testing.T) {
			_, idx := setupIndex(t, IndexOptions{Order: order})
			rnd := rand.New(rand.NewSource(int64(order)))
			model := make(map[string]string)

			for i := range 3000 {
				key := binary.BigEndian.AppendUint16(nil, uint16(rnd.Intn(400)))
				if rnd.Intn(3) == 0 {
					found, err := idx.Remove(key)
					require.NoError(t, err)
					_, wanted := model[string(key)]
					require.Equal(t, wanted, found)
					delete(model, string(key))
				} else {
					value := fmt.Sprint(i)
					require.NoError(t, idx.Insert(key, []byte(value)))
					model[string(key)] = value
				}
				if i%250 == 0 {
					require.NoError(t, idx.Check())
				}
			}
			require.NoError(t, idx.Check())

			n, err := idx.Len()
			require.NoError(t, err)
			require.Equal(t, len(model), n)

			var wantKeys []string
			for key := range model {
				wantKeys = append(wantKeys, key)
			}
			slices.Sort(wantKeys)
			entries, err := idx.Collect(RangeOO())
			require.NoError(t, err)
			require.Len(t, entries, len(wantKeys))
			for i, e := range entries {
				require.Equal(t, wantKeys[i], string(e.Key))
				require.Equal(t, model[wantKeys[i]], string(e.Value))
			}

			for key, value := range model {
				got, found, err := idx.Lookup([]byte(key))
				require.NoError(t, err)
				require.True(t, found)
				require.Equal(t, value, string(got))
			}
		})
	}
}

func TestIndex_DuplicatePolicies(t *testing.T) {
	s, over := setupIndex(t, IndexOptions{Order: 4})
	require.NoError(t, over.Insert([]byte("a"), []byte("1")))
	require.NoError(t, over.Insert([]byte("a"), []byte("2")))
	v, _, err := over.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "2", string(v))
	n, _ := over.Len()
	require.Equal(t, 1, n)

	uniq, err := s.CreateIndex("uniq", IndexOptions{Order: 4, Duplicates: Reject})
	require.NoError(t, err)
	require.NoError(t, uniq.Insert([]byte("a"), []byte("1")))
	err = uniq.Insert([]byte("a"), []byte("2"))
	require.ErrorIs(t, err, ErrDuplicateKey)
	v, _, err = uniq.Lookup([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, "1", string(v))
	require.Equal(t, 0, s.Store().PinnedCount())
	require.NoError(t, uniq.Check())
}

func TestIndex_EmptyKeysAndValues(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{})
	require.NoError(t, idx.Insert(nil, nil))
	v, found, err := idx.Lookup([]byte{})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{}, v)

	key, _, found, err := idx.First()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte{}, key)
}

func TestIndex_FirstLast(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 3})
	_, _, found, err := idx.First()
	require.NoError(t, err)
	require.False(t, found)

	for _, v := range []byte{50, 7, 99, 23, 61, 3, 88} {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	first, _, found, err := idx.First()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, k(3), first)
	last, _, found, err := idx.Last()
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, k(99), last)
}

func TestIndex_CustomCompare(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	_, idx := setupIndex(t, IndexOptions{Order: 3, Compare: reverse})
	for v := range byte(20) {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	require.NoError(t, idx.Check())
	first, _, _, err := idx.First()
	require.NoError(t, err)
	require.Equal(t, k(19), first)

	entries, err := idx.Collect(RangeII(k(15), k(12)))
	require.NoError(t, err)
	require.Equal(t, []Entry{{k(15), []byte{}}, {k(14), []byte{}}, {k(13), []byte{}}, {k(12), []byte{}}}, entries)
}

func TestIndex_Scan(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 3})
	for v := byte(10); v <= 60; v += 10 {
		require.NoError(t, idx.Insert(k(v), k(v+1)))
	}

	scan := func(r Range) []byte {
		t.Helper()
		var out []byte
		c := idx.Scan(r)
		for c.Next() {
			require.Equal(t, c.Key()[0]+1, c.Value()[0])
			out = append(out, c.Key()[0])
		}
		require.NoError(t, c.Err())
		return out
	}
	require.Equal(t, []byte{10, 20, 30, 40, 50, 60}, scan(RangeOO()))
	require.Equal(t, []byte{30, 40, 50, 60}, scan(RangeIO(k(30))))
	require.Equal(t, []byte{40, 50, 60}, scan(RangeEO(k(30))))
	require.Equal(t, []byte{40, 50, 60}, scan(RangeIO(k(35))))
	require.Equal(t, []byte{10, 20, 30}, scan(RangeOI(k(30))))
	require.Equal(t, []byte{10, 20}, scan(RangeOE(k(30))))
	require.Equal(t, []byte{20, 30, 40}, scan(RangeII(k(20), k(40))))
	require.Equal(t, []byte{30}, scan(RangeEE(k(20), k(40)).Prefixed(k(30))))
	require.Equal(t, []byte{50}, scan(RangeExact(k(50))))
	require.Nil(t, scan(RangeExact(k(55))))
	require.Nil(t, scan(RangeIO(k(61))))
}

func TestIndex_ScanPrefix(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 4})
	for _, key := range []string{"apple", "apricot", "banana", "blueberry", "blackberry", "cherry", "a"} {
		require.NoError(t, idx.Insert([]byte(key), nil))
	}
	var got []string
	c := idx.Scan(RangePrefix([]byte("b")))
	for c.Next() {
		got = append(got, string(c.Key()))
	}
	require.NoError(t, c.Err())
	require.Equal(t, []string{"banana", "blackberry", "blueberry"}, got)
}

func TestIndex_ScanSurvivesModification(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 3})
	for v := range byte(30) {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	var seen []byte
	c := idx.Scan(RangeOO())
	for c.Next() {
		seen = append(seen, c.Key()[0])
		if c.Key()[0] == 4 {
			for v := byte(100); v < 110; v++ {
				require.NoError(t, idx.Insert(k(v), nil))
			}
		}
	}
	require.NoError(t, c.Err())
	require.True(t, slices.IsSorted(seen))
	require.Equal(t, byte(0), seen[0])
	require.Equal(t, byte(109), seen[len(seen)-1])
}

func TestIndex_FailedMutationLeavesTreeIntact(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 4})
	store := s.Store()
	for v := range byte(20) {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	before := shape(t, idx)

	// pinned anchor: the mutation cannot even start
	anchor, err := store.Acquire(idx.AnchorAddress())
	require.NoError(t, err)
	err = idx.Insert(k(100), nil)
	require.ErrorIs(t, err, ErrObjectNotAcquired)
	_, err = idx.Remove(k(3))
	require.ErrorIs(t, err, ErrObjectNotAcquired)
	require.NoError(t, store.Release(anchor))

	// pinned leaf halfway down the path
	leafAddr, err := idx.seekLeaf(k(19))
	require.NoError(t, err)
	leaf, err := store.Acquire(leafAddr)
	require.NoError(t, err)
	records := store.Stats().Records
	err = idx.Insert(k(200), nil)
	require.ErrorIs(t, err, ErrObjectNotAcquired)
	require.NotErrorIs(t, err, ErrAlreadyPinned)
	require.Equal(t, 1, store.PinnedCount())
	require.Equal(t, records, store.Stats().Records)
	require.NoError(t, store.Release(leaf))

	require.Equal(t, before, shape(t, idx))
	require.NoError(t, idx.Check())
	n, err := idx.Len()
	require.NoError(t, err)
	require.Equal(t, 20, n)
}

func TestIndex_FailedCommitLeavesTreeIntact(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 4})
	store := s.Store()
	mem := store.backend.(*memStorage)
	for v := range byte(20) {
		require.NoError(t, idx.Insert(k(v), k(v)))
	}
	before := shape(t, idx)
	records := store.Stats().Records

	requireUnchanged := func() {
		t.Helper()
		require.Equal(t, before, shape(t, idx))
		require.Equal(t, records, store.Stats().Records)
		require.Equal(t, 0, store.PinnedCount())
		require.NoError(t, idx.Check())
		n, err := idx.Len()
		require.NoError(t, err)
		require.Equal(t, 20, n)
		for v := range byte(20) {
			value, found, err := idx.Lookup(k(v))
			require.NoError(t, err)
			require.True(t, found, "key %d", v)
			require.Equal(t, k(v), value)
		}
	}

	mem.writeErr = errors.New("input/output error")

	// splits allocate new nodes before the write fails; they must go away
	for v := byte(100); v < 110; v++ {
		err := idx.Insert(k(v), nil)
		require.ErrorIs(t, err, ErrObjectNotReleased)
		requireUnchanged()
	}

	// merges must not delete anything when the surviving nodes cannot be written
	for v := range byte(20) {
		_, err := idx.Remove(k(v))
		require.ErrorIs(t, err, ErrObjectNotReleased)
		requireUnchanged()
	}

	mem.writeErr = nil
	for v := byte(100); v < 110; v++ {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	for v := range byte(20) {
		found, err := idx.Remove(k(v))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.NoError(t, idx.Check())
	n, err := idx.Len()
	require.NoError(t, err)
	require.Equal(t, 10, n)
}

func TestIndex_EntryTooLarge(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 4})
	store := s.Store()
	require.NoError(t, idx.Insert(k(1), []byte("one")))
	before := shape(t, idx)
	records := store.Stats().Records

	limit := maxEntrySize(store.maxRecord, 4)
	err := idx.Insert(k(2), make([]byte, limit))
	require.ErrorIs(t, err, ErrEntryTooLarge)
	require.Equal(t, before, shape(t, idx))
	require.Equal(t, records, store.Stats().Records)
	require.Equal(t, 0, store.PinnedCount())

	big, err := s.CreateIndex("big", IndexOptions{Order: maxOrder})
	require.NoError(t, err)
	limit = maxEntrySize(store.maxRecord, maxOrder)
	require.ErrorIs(t, big.Insert(k(1), make([]byte, 2000)), ErrEntryTooLarge)
	require.NoError(t, big.Insert(k(1), make([]byte, limit-1)))
	value, found, err := big.Lookup(k(1))
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, value, limit-1)
	require.NoError(t, big.Check())
}

func TestIndex_CorruptNode(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 4})
	for v := range byte(10) {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	leafAddr, err := idx.seekLeaf(k(0))
	require.NoError(t, err)
	frame := s.Store().backend.(*memStorage).records[leafAddr]
	frame[len(frame)-1] ^= 0xFF

	_, _, err = idx.Lookup(k(0))
	require.ErrorIs(t, err, ErrObjectNotAcquired)
	require.NotErrorIs(t, err, ErrCorrupt)
	require.ErrorIs(t, idx.Check(), ErrObjectNotAcquired)
	require.Equal(t, 0, s.Store().PinnedCount())
}

func TestIndex_CheckDetectsViolations(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 4})
	for v := range byte(12) {
		require.NoError(t, idx.Insert(k(v), nil))
	}
	require.NoError(t, idx.Check())

	leafAddr, err := idx.seekLeaf(k(0))
	require.NoError(t, err)
	leaf, err := idx.ops.acquireNode(leafAddr)
	require.NoError(t, err)
	leaf.keys[0], leaf.keys[1] = leaf.keys[1], leaf.keys[0]
	require.NoError(t, idx.ops.release(leaf))

	require.ErrorIs(t, idx.Check(), ErrInvariant)
}

func TestIndex_ConcurrentWriters(t *testing.T) {
	s, idx := setupIndex(t, IndexOptions{Order: 5})
	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 200 {
				key := binary.BigEndian.AppendUint16([]byte{byte(w)}, uint16(i))
				if err := idx.Insert(key, nil); err != nil {
					t.Error(err)
					return
				}
				if _, _, err := idx.Lookup(key); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()
	require.NoError(t, idx.Check())
	n, err := idx.Len()
	require.NoError(t, err)
	require.Equal(t, 800, n)
	require.Equal(t, 0, s.Store().PinnedCount())
}

func TestIndex_StatsAndDump(t *testing.T) {
	_, idx := setupIndex(t, IndexOptions{Order: 4})
	for _, v := range []byte{10, 20, 5, 15, 25, 30, 1} {
		require.NoError(t, idx.Insert(k(v), k(v)))
	}
	st, err := idx.Stats()
	require.NoError(t, err)
	require.Equal(t, IndexStats{Order: 4, Height: 2, Nodes: 3, Leaves: 2, Entries: 7, KeyBytes: 7, ValueBytes: 7}, st)
	require.InDelta(t, 7.0/8.0, st.Fill(), 0.001)

	dump := idx.Dump(DumpAll)
	t.Log("\n" + dump)
	require.Contains(t, dump, "test (7 entries)")
	require.Contains(t, dump, "node ")
	require.Contains(t, dump, "0f => 0f")
}
