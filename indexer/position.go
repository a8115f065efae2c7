package indexer

import "fmt"

// Position locates a leaf inside a unit's buffer list.
//
// Packed layout (uint64): buffer:32 reserved:16 offset:16.
type Position struct {
	buffer   uint32
	reserved uint16
	offset   uint16
}

func MakePosition(buffer uint32, offset uint16) Position {
	return Position{buffer: buffer, offset: offset}
}

func UnpackPosition(v uint64) Position {
	return Position{
		buffer:   uint32(v >> 32),
		reserved: uint16(v >> 16),
		offset:   uint16(v),
	}
}

func (p Position) Buffer() uint32 {
	return p.buffer
}

func (p Position) Offset() uint16 {
	return p.offset
}

func (p Position) Reserved() uint16 {
	return p.reserved
}

func (p Position) Pack() uint64 {
	return uint64(p.buffer)<<32 | uint64(p.reserved)<<16 | uint64(p.offset)
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.buffer, p.offset)
}
