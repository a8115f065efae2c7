package indexer

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Leaf layout (little-endian):
//
//	capacity:u16 count:u16 (truncatedKey:48 value:48)*capacity
//
// Slots [0, count) are sorted by truncated key; equal truncated keys keep
// insertion order. Slots past count are unused.
const (
	leafHeaderSize   = 4
	TruncatedKeySize = 6
	ValueSize        = 6
	SlotSize         = TruncatedKeySize + ValueSize

	maxSlotValue = (uint64(1) << (8 * ValueSize)) - 1
)

// Slot is one truncated key → value pair of a leaf.
type Slot struct {
	Key   uint64
	Value uint64
}

func LeafSize(capacity int) int {
	return leafHeaderSize + capacity*SlotSize
}

// leafView is a leaf in place inside a buffer.
type leafView []byte

func (l leafView) capacity() int {
	return int(binary.LittleEndian.Uint16(l[0:2]))
}

func (l leafView) count() int {
	return int(binary.LittleEndian.Uint16(l[2:4]))
}

func (l leafView) setCount(n int) {
	binary.LittleEndian.PutUint16(l[2:4], uint16(n))
}

func (l leafView) slot(i int) Slot {
	off := leafHeaderSize + i*SlotSize
	return Slot{
		Key:   getUint48(l[off:]),
		Value: getUint48(l[off+TruncatedKeySize:]),
	}
}

func (l leafView) setSlot(i int, s Slot) {
	off := leafHeaderSize + i*SlotSize
	putUint48(l[off:], s.Key)
	putUint48(l[off+TruncatedKeySize:], s.Value)
}

func (l leafView) slots() []Slot {
	n := l.count()
	out := make([]Slot, n)
	for i := range out {
		out[i] = l.slot(i)
	}
	return out
}

// lowerBound returns the first slot index whose key is >= key.
func (l leafView) lowerBound(key uint64) int {
	return sort.Search(l.count(), func(i int) bool {
		return l.slot(i).Key >= key
	})
}

// upperBound returns the first slot index whose key is > key.
func (l leafView) upperBound(key uint64) int {
	return sort.Search(l.count(), func(i int) bool {
		return l.slot(i).Key > key
	})
}

// insertInPlace inserts s into spare capacity, keeping slots sorted.
func (l leafView) insertInPlace(s Slot) int {
	n := l.count()
	if n >= l.capacity() {
		panic("leaf is full")
	}
	i := l.upperBound(s.Key)
	start := leafHeaderSize + i*SlotSize
	end := leafHeaderSize + n*SlotSize
	copy(l[start+SlotSize:end+SlotSize], l[start:end])
	l.setSlot(i, s)
	l.setCount(n + 1)
	return i
}

func writeLeaf(dst []byte, capacity int, slots []Slot) {
	if len(slots) > capacity {
		panic(fmt.Errorf("%d slots do not fit a leaf of capacity %d", len(slots), capacity))
	}
	l := leafView(dst[:LeafSize(capacity)])
	binary.LittleEndian.PutUint16(l[0:2], uint16(capacity))
	l.setCount(len(slots))
	for i, s := range slots {
		l.setSlot(i, s)
	}
	clear(l[leafHeaderSize+len(slots)*SlotSize:])
}

// openLeaf validates the leaf header at off and returns a view over it.
func openLeaf(buf []byte, off int, maxCapacity int) (leafView, error) {
	if off+leafHeaderSize > len(buf) {
		return nil, fmt.Errorf("%w: leaf header at %d past end of buffer (%d bytes)", ErrCorruptLayout, off, len(buf))
	}
	capacity := int(binary.LittleEndian.Uint16(buf[off:]))
	count := int(binary.LittleEndian.Uint16(buf[off+2:]))
	if capacity == 0 || capacity > maxCapacity {
		return nil, fmt.Errorf("%w: leaf at %d has capacity %d", ErrCorruptLayout, off, capacity)
	}
	if count > capacity {
		return nil, fmt.Errorf("%w: leaf at %d has count %d > capacity %d", ErrCorruptLayout, off, count, capacity)
	}
	end := off + LeafSize(capacity)
	if end > len(buf) {
		return nil, fmt.Errorf("%w: leaf at %d with capacity %d past end of buffer (%d bytes)", ErrCorruptLayout, off, capacity, len(buf))
	}
	return leafView(buf[off:end]), nil
}

// insertSorted returns a copy of slots with s inserted after any equal keys.
func insertSorted(slots []Slot, s Slot) []Slot {
	i := sort.Search(len(slots), func(i int) bool {
		return slots[i].Key > s.Key
	})
	out := make([]Slot, 0, len(slots)+1)
	out = append(out, slots[:i]...)
	out = append(out, s)
	out = append(out, slots[i:]...)
	return out
}

// splitSlots splits sorted slots evenly by count. The split point moves to the
// nearest boundary between distinct keys, preferring the right side on ties,
// so that no key ends up in both halves.
func splitSlots(slots []Slot) (left, right []Slot, err error) {
	n := len(slots)
	mid := n / 2
	for d := 0; d <= n; d++ {
		for _, i := range [2]int{mid + d, mid - d} {
			if i > 0 && i < n && slots[i-1].Key != slots[i].Key {
				return slots[:i:i], slots[i:], nil
			}
		}
	}
	return nil, nil, ErrSplitImpossible
}

// capacityFor picks the smallest doubling of initial that holds n slots and
// leaves room for one more, capped at max.
func capacityFor(n, initial, max int) int {
	c := initial
	for c <= n && c < max {
		c *= 2
	}
	if c > max {
		c = max
	}
	return c
}

func getUint48(b []byte) uint64 {
	_ = b[5]
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 | uint64(b[4])<<32 | uint64(b[5])<<40
}

func putUint48(b []byte, v uint64) {
	_ = b[5]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
	b[4] = byte(v >> 32)
	b[5] = byte(v >> 40)
}
