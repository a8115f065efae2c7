package indexer

import (
	"fmt"
	"sort"
)

// UnitRecord is the persisted bookkeeping of a unit. Leaves live in the
// buffer records; Index holds (start, packed position) pairs in key order.
type UnitRecord struct {
	Keys        int      `msgpack:"k"`
	LastSize    int      `msgpack:"ls"`
	ChangeCount int      `msgpack:"cc"`
	Compactions int      `msgpack:"cp"`
	NumBuffers  int      `msgpack:"nb"`
	Index       []uint64 `msgpack:"ix"`
}

// BufferImage is the encoded form of one dirty buffer.
type BufferImage struct {
	Index int
	Data  []byte
}

// UnitImage is everything that must be written to persist a unit.
type UnitImage struct {
	Shard   int
	Record  UnitRecord
	Buffers []BufferImage

	// Stale lists buffer indexes persisted earlier that no longer exist.
	Stale []int
}

// Checkpoint captures the unit's unpersisted state, or returns nil if the
// unit is clean.
func (u *Unit) Checkpoint() *UnitImage {
	if !u.dirty {
		return nil
	}
	img := &UnitImage{
		Shard: u.shard,
		Record: UnitRecord{
			Keys:        u.keys,
			LastSize:    u.lastSize,
			ChangeCount: u.changeCount,
			Compactions: u.compactions,
			NumBuffers:  u.bufs.Len(),
			Index:       make([]uint64, 0, 2*u.index.Len()),
		},
	}
	u.index.Ascend(func(it indexItem) bool {
		img.Record.Index = append(img.Record.Index, it.start, it.pos.Pack())
		return true
	})
	for i, b := range u.bufs.bufs {
		if b.dirty {
			img.Buffers = append(img.Buffers, BufferImage{i, b.Encode()})
		}
	}
	for i := u.bufs.Len(); i < u.persistedBuffers; i++ {
		img.Stale = append(img.Stale, i)
	}
	return img
}

// Persisted marks the state captured by img as durable.
func (u *Unit) Persisted(img *UnitImage) {
	for _, bi := range img.Buffers {
		if bi.Index < u.bufs.Len() {
			u.bufs.bufs[bi.Index].dirty = false
		}
	}
	u.persistedBuffers = img.Record.NumBuffers
	u.dirty = false
}

// restore rebuilds the unit from its persisted record and buffers, validating
// every leaf along the way.
func (u *Unit) restore(rec *UnitRecord, raw [][]byte) error {
	if len(raw) != rec.NumBuffers {
		return fmt.Errorf("%w: record names %d buffers, found %d", ErrCorruptLayout, rec.NumBuffers, len(raw))
	}
	if len(rec.Index)%2 != 0 {
		return fmt.Errorf("%w: odd index length %d", ErrCorruptLayout, len(rec.Index))
	}
	if rec.NumBuffers > u.cfg.MaxBuffers {
		return fmt.Errorf("%w: %d buffers exceed the configured maximum %d", ErrCorruptLayout, rec.NumBuffers, u.cfg.MaxBuffers)
	}

	bufs := newBufferList(u.cfg.payload(), u.cfg.MaxBuffers)
	for i, data := range raw {
		b, err := decodeBuffer(data, u.cfg.payload())
		if err != nil {
			return fmt.Errorf("buffer %d: %w", i, err)
		}
		bufs.bufs = append(bufs.bufs, b)
	}

	items := make([]indexItem, 0, len(rec.Index)/2)
	var keys int
	var prevEnd uint64
	for i := 0; i < len(rec.Index); i += 2 {
		it := indexItem{rec.Index[i], UnpackPosition(rec.Index[i+1])}
		l, err := bufs.leafAt(it.pos, u.cfg.LeafMaxCapacity)
		if err != nil {
			return err
		}
		n := l.count()
		if n == 0 {
			return fmt.Errorf("%w: empty leaf at %v", ErrCorruptLayout, it.pos)
		}
		slots := l.slots()
		if !sort.SliceIsSorted(slots, func(a, b int) bool { return slots[a].Key < slots[b].Key }) {
			return fmt.Errorf("%w: leaf at %v is not sorted", ErrCorruptLayout, it.pos)
		}
		if slots[0].Key < it.start || (len(items) > 0 && (it.start <= items[len(items)-1].start || it.start < prevEnd)) {
			return fmt.Errorf("%w: leaf at %v overlaps its neighbours", ErrCorruptLayout, it.pos)
		}
		prevEnd = slots[n-1].Key + 1
		keys += n
		items = append(items, it)
	}
	if keys != rec.Keys {
		return fmt.Errorf("%w: record counts %d keys, leaves hold %d", ErrCorruptLayout, rec.Keys, keys)
	}

	u.bufs = bufs
	u.index.Clear(false)
	for _, it := range items {
		u.index.ReplaceOrInsert(it)
	}
	u.keys = rec.Keys
	u.lastSize = rec.LastSize
	u.changeCount = rec.ChangeCount
	u.compactions = rec.Compactions
	u.persistedBuffers = rec.NumBuffers
	u.dirty = false
	u.corrupt = nil
	return nil
}
