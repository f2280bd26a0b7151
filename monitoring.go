package objstore

type StoreStats struct {
	Records    int
	FileSize   int64
	FreeBlocks int
	Pinned     int

	Inserts  uint64
	Acquires uint64
	Releases uint64
	Removes  uint64
}

func (s *ObjectStore) Stats() StoreStats {
	s.mu.Lock()
	var bs backendStats
	if !s.closed {
		bs = s.backend.Stats()
	}
	pinned := len(s.pins)
	s.mu.Unlock()

	return StoreStats{
		Records:    bs.Records,
		FileSize:   bs.FileSize,
		FreeBlocks: bs.FreeBlocks,
		Pinned:     pinned,
		Inserts:    s.InsertCount.Load(),
		Acquires:   s.AcquireCount.Load(),
		Releases:   s.ReleaseCount.Load(),
		Removes:    s.RemoveCount.Load(),
	}
}

type IndexStats struct {
	Order   int
	Height  int
	Nodes   int
	Leaves  int
	Entries int

	// KeyBytes and ValueBytes sum the lengths of all keys and values stored
	// in leaves.
	KeyBytes   int
	ValueBytes int
}

// Fill is the average leaf occupancy relative to the order, in [0, 1].
func (is *IndexStats) Fill() float64 {
	if is.Leaves == 0 || is.Order == 0 {
		return 0
	}
	return float64(is.Entries) / float64(is.Leaves*is.Order)
}

// Stats walks the whole tree.
func (idx *Index) Stats() (IndexStats, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.checkLive(); err != nil {
		return IndexStats{}, err
	}
	st, err := idx.readAnchor()
	if err != nil {
		return IndexStats{}, idx.errf(nil, err, "stats")
	}
	result := IndexStats{Order: st.order}
	if st.root.IsNil() {
		return result, nil
	}
	err = idx.walk(st.root, 0, nil, nil, func(node *indexNode, depth int, lower, upper []byte) error {
		result.Nodes++
		result.Height = max(result.Height, depth+1)
		if node.leaf {
			result.Leaves++
			result.Entries += node.size()
			for i, k := range node.keys {
				result.KeyBytes += len(k)
				result.ValueBytes += len(node.values[i])
			}
		}
		return nil
	})
	if err != nil {
		return IndexStats{}, idx.errf(nil, err, "stats")
	}
	return result, nil
}
