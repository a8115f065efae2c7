package twig

import (
	"encoding/binary"
	"fmt"

	"github.com/andreyvit/qmdb/hkey"
)

// NoID marks an absent entry reference (no previous version, no successor).
const NoID = ^uint64(0)

// Entry is one immutable record in a twig.
type Entry struct {
	ID    uint64 `msgpack:"id"`
	Key   []byte `msgpack:"k"`
	Value []byte `msgpack:"v"`

	// NextKey is the fixed key of the next key in the shard at write time,
	// all zeroes when there is none.
	NextKey hkey.Key `msgpack:"nk"`

	OldID        uint64 `msgpack:"o"`
	OldNextKeyID uint64 `msgpack:"on"`
	Seq          uint64 `msgpack:"s"`
}

func (e *Entry) String() string {
	return fmt.Sprintf("#%d %q=%q seq=%d old=%s next=%s", e.ID, e.Key, e.Value, e.Seq, idString(e.OldID), idString(e.OldNextKeyID))
}

func idString(id uint64) string {
	if id == NoID {
		return "-"
	}
	return fmt.Sprint(id)
}

// AppendBinary appends the canonical encoding hashed into the entry leaf:
//
//	id:u64 seq:u64 oldID:u64 oldNextKeyID:u64 nextKey:10 len(key):uvarint key len(value):uvarint value
//
// Integers are big-endian.
func (e *Entry) AppendBinary(buf []byte) []byte {
	buf = binary.BigEndian.AppendUint64(buf, e.ID)
	buf = binary.BigEndian.AppendUint64(buf, e.Seq)
	buf = binary.BigEndian.AppendUint64(buf, e.OldID)
	buf = binary.BigEndian.AppendUint64(buf, e.OldNextKeyID)
	buf = append(buf, e.NextKey[:]...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Key)))
	buf = append(buf, e.Key...)
	buf = binary.AppendUvarint(buf, uint64(len(e.Value)))
	buf = append(buf, e.Value...)
	return buf
}
