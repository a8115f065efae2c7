package indexer

// compactionDue reports whether enough churn accumulated since the last
// compaction to justify rewriting the unit.
func (u *Unit) compactionDue() bool {
	base := u.lastSize
	if base < u.cfg.CompactThreshold {
		base = u.cfg.CompactThreshold
	}
	return u.changeCount*u.cfg.CompactRatio > base
}

// Compact rewrites every live leaf into a fresh, densely packed buffer list.
// Leaf starts are preserved, capacities shrink to fit. On error the unit is
// left as it was.
func (u *Unit) Compact() error {
	fresh := newBufferList(u.cfg.payload(), u.cfg.MaxBuffers)
	var items []indexItem
	var err error
	u.index.Ascend(func(it indexItem) bool {
		var l leafView
		l, err = u.leaf(it.pos)
		if err != nil {
			return false
		}
		slots := l.slots()
		c := u.capacityFor(len(slots))
		var pos Position
		var dst []byte
		pos, dst, err = fresh.alloc(LeafSize(c))
		if err != nil {
			err = shardErrf(u.shard, err, "compacting")
			return false
		}
		writeLeaf(dst, c, slots)
		items = append(items, indexItem{it.start, pos})
		return true
	})
	if err != nil {
		return err
	}

	u.bufs = fresh
	u.index.Clear(false)
	for _, it := range items {
		u.index.ReplaceOrInsert(it)
	}
	u.lastSize = u.keys
	u.changeCount = 0
	u.compactions++
	u.dirty = true
	return nil
}
