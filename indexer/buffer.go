package indexer

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultBufferSize = 10 * 1024

	// BufferHeaderSize is reserved out of every buffer for the persisted header.
	//
	// Header layout (little-endian): used:u32 flags:u32 checksum:u64, where
	// checksum is xxhash64 of the used payload bytes.
	BufferHeaderSize = 16
)

// Buffer is a fixed-size block of packed leaves. Leaves are appended at used;
// bytes below used are only ever changed by in-place inserts into a leaf's
// spare capacity, which bump the leaf's count and move the slots after the
// insertion point up by one slot.
type Buffer struct {
	data  []byte
	used  int
	dirty bool
}

func newBuffer(payload int) *Buffer {
	return &Buffer{data: make([]byte, payload), dirty: true}
}

func (b *Buffer) Used() int {
	return b.used
}

func (b *Buffer) Free() int {
	return len(b.data) - b.used
}

// Encode returns the persisted form: header followed by the used payload.
func (b *Buffer) Encode() []byte {
	out := make([]byte, BufferHeaderSize+b.used)
	binary.LittleEndian.PutUint32(out[0:4], uint32(b.used))
	binary.LittleEndian.PutUint64(out[8:16], xxhash.Sum64(b.data[:b.used]))
	copy(out[BufferHeaderSize:], b.data[:b.used])
	return out
}

func decodeBuffer(raw []byte, payload int) (*Buffer, error) {
	if len(raw) < BufferHeaderSize {
		return nil, fmt.Errorf("%w: buffer record of %d bytes is shorter than its header", ErrCorruptLayout, len(raw))
	}
	used := int(binary.LittleEndian.Uint32(raw[0:4]))
	if used != len(raw)-BufferHeaderSize || used > payload {
		return nil, fmt.Errorf("%w: buffer header claims %d used bytes, record has %d, payload is %d", ErrCorruptLayout, used, len(raw)-BufferHeaderSize, payload)
	}
	body := raw[BufferHeaderSize:]
	if sum := xxhash.Sum64(body); sum != binary.LittleEndian.Uint64(raw[8:16]) {
		return nil, fmt.Errorf("%w: buffer checksum mismatch", ErrCorruptLayout)
	}
	b := &Buffer{data: make([]byte, payload), used: used}
	copy(b.data, body)
	return b, nil
}

// BufferList is the append-only sequence of buffers of one unit.
type BufferList struct {
	bufs       []*Buffer
	payload    int
	maxBuffers int
}

type bufferMark struct {
	n    int
	used int
}

func newBufferList(payload, maxBuffers int) BufferList {
	return BufferList{payload: payload, maxBuffers: maxBuffers}
}

func (bl *BufferList) Len() int {
	return len(bl.bufs)
}

func (bl *BufferList) Buffer(i int) *Buffer {
	return bl.bufs[i]
}

func (bl *BufferList) mark() bufferMark {
	m := bufferMark{n: len(bl.bufs)}
	if m.n > 0 {
		m.used = bl.bufs[m.n-1].used
	}
	return m
}

// rollback discards everything allocated since m.
func (bl *BufferList) rollback(m bufferMark) {
	for i := m.n; i < len(bl.bufs); i++ {
		bl.bufs[i] = nil
	}
	bl.bufs = bl.bufs[:m.n]
	if m.n > 0 {
		last := bl.bufs[m.n-1]
		clear(last.data[m.used:last.used])
		last.used = m.used
	}
}

// alloc reserves size bytes in the current buffer, starting a new buffer when
// the current one has too little room left.
func (bl *BufferList) alloc(size int) (Position, []byte, error) {
	if size > bl.payload {
		panic(fmt.Errorf("allocation of %d bytes exceeds buffer payload of %d", size, bl.payload))
	}
	n := len(bl.bufs)
	if n == 0 || bl.bufs[n-1].Free() < size {
		if n >= bl.maxBuffers {
			return Position{}, nil, fmt.Errorf("%w: %d buffers in use", ErrCapacityExceeded, n)
		}
		bl.bufs = append(bl.bufs, newBuffer(bl.payload))
		n++
	}
	b := bl.bufs[n-1]
	off := b.used
	b.used += size
	b.dirty = true
	return MakePosition(uint32(n-1), uint16(off)), b.data[off:b.used], nil
}

func (bl *BufferList) leafAt(pos Position, maxCapacity int) (leafView, error) {
	i := int(pos.Buffer())
	if i >= len(bl.bufs) {
		return nil, fmt.Errorf("%w: position %v refers to buffer %d of %d", ErrCorruptLayout, pos, i, len(bl.bufs))
	}
	b := bl.bufs[i]
	return openLeaf(b.data[:b.used], int(pos.Offset()), maxCapacity)
}

func (bl *BufferList) touch(pos Position) {
	bl.bufs[pos.Buffer()].dirty = true
}

func (bl *BufferList) usedBytes() int {
	var n int
	for _, b := range bl.bufs {
		n += b.used
	}
	return n
}
