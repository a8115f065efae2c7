package indexer

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/google/btree"

	"github.com/andreyvit/qmdb/hkey"
)

const btreeDegree = 16

type indexItem struct {
	start uint64 // truncated key where the leaf's range begins
	pos   Position
}

func lessIndexItem(a, b indexItem) bool {
	return a.start < b.start
}

// Unit is one shard of the indexer: an ordered index of leaf ranges and the
// buffer list holding the leaves.
//
// A leaf covers [start, next leaf's start). The first leaf also covers every
// key below its start; inserting such a key moves the start down.
//
// Unit methods must only be called from inside Indexer.Read or Indexer.Write.
type Unit struct {
	mu    sync.RWMutex
	shard int
	cfg   *Config

	index *btree.BTreeG[indexItem]
	bufs  BufferList

	keys        int
	lastSize    int
	changeCount int
	compactions int

	dirty            bool
	persistedBuffers int
	corrupt          error

	sp *savepoint
}

// savepoint is the state Indexer.Write restores when its callback fails.
// The index is a lazy copy-on-write clone; leaves edited in place are saved
// before the edit.
type savepoint struct {
	index       *btree.BTreeG[indexItem]
	bufs        bufferMark
	keys        int
	changeCount int
	dirty       bool
	leaves      []savedLeaf
}

type savedLeaf struct {
	pos  Position
	data []byte
}

func (u *Unit) begin() {
	u.sp = &savepoint{
		index:       u.index.Clone(),
		bufs:        u.bufs.mark(),
		keys:        u.keys,
		changeCount: u.changeCount,
		dirty:       u.dirty,
	}
}

func (u *Unit) end() {
	u.sp = nil
}

// rollback undoes every change made since begin.
func (u *Unit) rollback() {
	sp := u.sp
	u.sp = nil
	for i := len(sp.leaves) - 1; i >= 0; i-- {
		sl := sp.leaves[i]
		b := u.bufs.bufs[sl.pos.Buffer()]
		copy(b.data[sl.pos.Offset():], sl.data)
	}
	u.bufs.rollback(sp.bufs)
	u.index = sp.index
	u.keys = sp.keys
	u.changeCount = sp.changeCount
	u.dirty = sp.dirty
}

func (u *Unit) saveLeaf(pos Position, l leafView) {
	if u.sp != nil {
		u.sp.leaves = append(u.sp.leaves, savedLeaf{pos, bytes.Clone(l)})
	}
}

func (u *Unit) init(shard int, cfg *Config) {
	u.shard = shard
	u.cfg = cfg
	u.index = btree.NewG[indexItem](btreeDegree, lessIndexItem)
	u.bufs = newBufferList(cfg.payload(), cfg.MaxBuffers)
}

func (u *Unit) Shard() int {
	return u.shard
}

// Len returns the number of live keys.
func (u *Unit) Len() int {
	return u.keys
}

// Leaves returns the number of live leaves.
func (u *Unit) Leaves() int {
	return u.index.Len()
}

func (u *Unit) Buffers() *BufferList {
	return &u.bufs
}

// covering returns the index item of the leaf whose range holds trunc.
func (u *Unit) covering(trunc uint64) (indexItem, bool) {
	var found indexItem
	var ok bool
	u.index.DescendLessOrEqual(indexItem{start: trunc}, func(it indexItem) bool {
		found, ok = it, true
		return false
	})
	if !ok {
		found, ok = u.index.Min()
	}
	return found, ok
}

func (u *Unit) next(start uint64) (indexItem, bool) {
	var found indexItem
	var ok bool
	if start == ^uint64(0) {
		return found, false
	}
	u.index.AscendGreaterOrEqual(indexItem{start: start + 1}, func(it indexItem) bool {
		found, ok = it, true
		return false
	})
	return found, ok
}

func (u *Unit) leaf(pos Position) (leafView, error) {
	l, err := u.bufs.leafAt(pos, u.cfg.LeafMaxCapacity)
	if err != nil {
		return nil, shardErrf(u.shard, err, "reading leaf")
	}
	return l, nil
}

// Lookup returns the values of every slot whose truncated key matches k, in
// insertion order. More than one value means a truncation collision.
func (u *Unit) Lookup(k hkey.Key) ([]uint64, error) {
	trunc := k.Truncated()
	it, ok := u.covering(trunc)
	if !ok {
		return nil, nil
	}
	l, err := u.leaf(it.pos)
	if err != nil {
		return nil, err
	}
	var values []uint64
	for i := l.lowerBound(trunc); i < l.count(); i++ {
		s := l.slot(i)
		if s.Key != trunc {
			break
		}
		values = append(values, s.Value)
	}
	return values, nil
}

// Successor returns the value of the first slot whose truncated key is
// greater than k's.
func (u *Unit) Successor(k hkey.Key) (uint64, bool, error) {
	trunc := k.Truncated()
	it, ok := u.covering(trunc)
	for ok {
		l, err := u.leaf(it.pos)
		if err != nil {
			return 0, false, err
		}
		if i := l.upperBound(trunc); i < l.count() {
			return l.slot(i).Value, true, nil
		}
		it, ok = u.next(it.start)
	}
	return 0, false, nil
}

// Insert adds a new slot k → value and returns the position of the leaf now
// holding it. On error the unit is unchanged.
func (u *Unit) Insert(k hkey.Key, value uint64) (Position, error) {
	if value > maxSlotValue {
		panic(fmt.Errorf("slot value %d exceeds 48 bits", value))
	}
	s := Slot{Key: k.Truncated(), Value: value}

	it, ok := u.covering(s.Key)
	if !ok {
		pos, err := u.appendLeaf(u.cfg.LeafInitialCapacity, []Slot{s})
		if err != nil {
			return Position{}, err
		}
		u.index.ReplaceOrInsert(indexItem{s.Key, pos})
		u.mutated(1)
		return pos, nil
	}

	l, err := u.leaf(it.pos)
	if err != nil {
		return Position{}, err
	}
	start := it.start
	if s.Key < start {
		start = s.Key
	}

	if l.count() < l.capacity() {
		u.saveLeaf(it.pos, l)
		l.insertInPlace(s)
		u.bufs.touch(it.pos)
		u.rekey(it, indexItem{start, it.pos})
		u.mutated(1)
		return it.pos, nil
	}

	slots := insertSorted(l.slots(), s)
	if l.capacity() < u.cfg.LeafMaxCapacity {
		c := l.capacity() * 2
		if c > u.cfg.LeafMaxCapacity {
			c = u.cfg.LeafMaxCapacity
		}
		pos, err := u.appendLeaf(c, slots)
		if err != nil {
			return Position{}, err
		}
		u.rekey(it, indexItem{start, pos})
		u.mutated(1)
		return pos, nil
	}

	left, right, err := splitSlots(slots)
	if err != nil {
		return Position{}, shardErrf(u.shard, err, "splitting leaf at %v", it.pos)
	}
	m := u.bufs.mark()
	lpos, err := u.appendLeaf(u.capacityFor(len(left)), left)
	if err != nil {
		return Position{}, err
	}
	rpos, err := u.appendLeaf(u.capacityFor(len(right)), right)
	if err != nil {
		u.bufs.rollback(m)
		return Position{}, err
	}
	u.rekey(it, indexItem{start, lpos})
	u.index.ReplaceOrInsert(indexItem{right[0].Key, rpos})
	u.mutated(1)
	if s.Key >= right[0].Key {
		return rpos, nil
	}
	return lpos, nil
}

// Replace swaps the value of the slot k → old for value, rewriting the leaf.
func (u *Unit) Replace(k hkey.Key, old, value uint64) (Position, error) {
	if value > maxSlotValue {
		panic(fmt.Errorf("slot value %d exceeds 48 bits", value))
	}
	trunc := k.Truncated()
	it, l, i, err := u.find(trunc, old)
	if err != nil {
		return Position{}, err
	}
	slots := l.slots()
	slots[i].Value = value
	pos, err := u.appendLeaf(l.capacity(), slots)
	if err != nil {
		return Position{}, err
	}
	u.index.ReplaceOrInsert(indexItem{it.start, pos})
	u.mutated(0)
	return pos, nil
}

// Remove deletes the slot k → value, rewriting the leaf without it. An emptied
// leaf leaves the index.
func (u *Unit) Remove(k hkey.Key, value uint64) error {
	trunc := k.Truncated()
	it, l, i, err := u.find(trunc, value)
	if err != nil {
		return err
	}
	slots := l.slots()
	slots = append(slots[:i], slots[i+1:]...)
	if len(slots) == 0 {
		u.index.Delete(it)
		u.mutated(-1)
		return nil
	}
	pos, err := u.appendLeaf(l.capacity(), slots)
	if err != nil {
		return err
	}
	u.index.ReplaceOrInsert(indexItem{it.start, pos})
	u.mutated(-1)
	return nil
}

func (u *Unit) find(trunc, value uint64) (indexItem, leafView, int, error) {
	it, ok := u.covering(trunc)
	if !ok {
		return it, nil, 0, shardErrf(u.shard, errSlotNotFound, "key %012x", trunc)
	}
	l, err := u.leaf(it.pos)
	if err != nil {
		return it, nil, 0, err
	}
	for i := l.lowerBound(trunc); i < l.count(); i++ {
		s := l.slot(i)
		if s.Key != trunc {
			break
		}
		if s.Value == value {
			return it, l, i, nil
		}
	}
	return it, nil, 0, shardErrf(u.shard, errSlotNotFound, "key %012x value %d", trunc, value)
}

func (u *Unit) rekey(old, it indexItem) {
	if old.start != it.start {
		u.index.Delete(old)
	}
	u.index.ReplaceOrInsert(it)
}

func (u *Unit) appendLeaf(capacity int, slots []Slot) (Position, error) {
	pos, dst, err := u.bufs.alloc(LeafSize(capacity))
	if err != nil {
		return Position{}, shardErrf(u.shard, err, "allocating leaf")
	}
	writeLeaf(dst, capacity, slots)
	return pos, nil
}

func (u *Unit) capacityFor(n int) int {
	return capacityFor(n, u.cfg.LeafInitialCapacity, u.cfg.LeafMaxCapacity)
}

func (u *Unit) mutated(keyDelta int) {
	u.keys += keyDelta
	u.changeCount++
	u.dirty = true
}

// LeafRange describes one leaf for inspection and tests.
type LeafRange struct {
	Start    uint64
	End      uint64 // exclusive; 0 means unbounded
	Pos      Position
	Capacity int
	Slots    []Slot
}

// Ranges lists the unit's leaves in key order.
func (u *Unit) Ranges() ([]LeafRange, error) {
	var out []LeafRange
	var err error
	u.index.Ascend(func(it indexItem) bool {
		var l leafView
		l, err = u.leaf(it.pos)
		if err != nil {
			return false
		}
		if n := len(out); n > 0 {
			out[n-1].End = it.start
		}
		out = append(out, LeafRange{
			Start:    it.start,
			Pos:      it.pos,
			Capacity: l.capacity(),
			Slots:    l.slots(),
		})
		return true
	})
	return out, err
}
