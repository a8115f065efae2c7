package indexer

import (
	"errors"
	"testing"
)

func TestSplitSlots(t *testing.T) {
	tests := []struct {
		keys      []uint64
		wantLeft  int
		wantError bool
	}{
		{[]uint64{1, 2, 3, 4}, 2, false},
		{[]uint64{1, 2, 3, 4, 5}, 2, false},
		{[]uint64{1, 1, 1, 2}, 3, false},
		{[]uint64{1, 2, 2, 2}, 1, false},
		{[]uint64{1, 1, 2, 2, 2, 2}, 2, false},
		{[]uint64{5, 5, 5, 5}, 0, true},
	}
	for _, tt := range tests {
		slots := make([]Slot, len(tt.keys))
		for i, k := range tt.keys {
			slots[i] = Slot{Key: k, Value: uint64(i)}
		}
		left, right, err := splitSlots(slots)
		if tt.wantError {
			if !errors.Is(err, ErrSplitImpossible) {
				t.Errorf("splitSlots(%v) err = %v, wanted ErrSplitImpossible", tt.keys, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("splitSlots(%v) err = %v", tt.keys, err)
		}
		if len(left) != tt.wantLeft || len(left)+len(right) != len(slots) {
			t.Errorf("splitSlots(%v) = %d+%d, wanted %d on the left", tt.keys, len(left), len(right), tt.wantLeft)
		}
		if left[len(left)-1].Key == right[0].Key {
			t.Errorf("splitSlots(%v) separated equal keys", tt.keys)
		}
	}
}

func TestCapacityFor(t *testing.T) {
	tests := []struct{ n, want int }{
		{0, 8}, {1, 8}, {7, 8}, {8, 16}, {15, 16}, {16, 32}, {31, 32}, {32, 32},
	}
	for _, tt := range tests {
		if a := capacityFor(tt.n, 8, 32); a != tt.want {
			t.Errorf("capacityFor(%d) = %d, wanted %d", tt.n, a, tt.want)
		}
	}
}

func TestLeaf_insertInPlace(t *testing.T) {
	buf := make([]byte, LeafSize(4))
	writeLeaf(buf, 4, []Slot{{10, 1}, {30, 3}})
	l := must(openLeaf(buf, 0, 32))
	l.insertInPlace(Slot{20, 2})
	l.insertInPlace(Slot{20, 4})
	deepEqual(t, l.slots(), []Slot{{10, 1}, {20, 2}, {20, 4}, {30, 3}})
	deepEqual(t, l.lowerBound(20), 1)
	deepEqual(t, l.upperBound(20), 3)
}

func TestOpenLeaf_rejectsBadHeaders(t *testing.T) {
	buf := make([]byte, LeafSize(8))
	writeLeaf(buf, 8, nil)
	if _, err := openLeaf(buf, 0, 4); !errors.Is(err, ErrCorruptLayout) {
		t.Errorf("capacity over max: err = %v", err)
	}
	if _, err := openLeaf(buf[:LeafSize(8)-1], 0, 32); !errors.Is(err, ErrCorruptLayout) {
		t.Errorf("truncated leaf: err = %v", err)
	}
	buf[2] = 9
	if _, err := openLeaf(buf, 0, 32); !errors.Is(err, ErrCorruptLayout) {
		t.Errorf("count over capacity: err = %v", err)
	}
}

func TestPosition_pack(t *testing.T) {
	p := MakePosition(0xDEADBEEF, 0x1234)
	deepEqual(t, p.Pack(), uint64(0xDEADBEEF_0000_1234))
	deepEqual(t, UnpackPosition(p.Pack()), p)
	deepEqual(t, p.String(), "3735928559:4660")
}

func TestBufferList_rollback(t *testing.T) {
	bl := newBufferList(100, 3)
	must2(bl.alloc(40))
	m := bl.mark()
	must2(bl.alloc(40))
	must2(bl.alloc(40))
	deepEqual(t, bl.Len(), 2)
	bl.rollback(m)
	deepEqual(t, bl.Len(), 1)
	deepEqual(t, bl.Buffer(0).Used(), 40)
}
