// Package hkey derives the fixed-width 80-bit keys used to route and order
// application keys.
//
// Layout of a Key (big-endian, 10 bytes):
//
//	shard:16 lookup:56 tag:8
//
// The bytes are the first 10 bytes of SHA3-256(application key), so a Key is
// stable across restarts and releases. The shard selector is used only for
// routing. Inside a shard, keys are totally ordered by the 64-bit ordinal
// lookup<<8 | tag. Leaves store the high 48 bits of the ordinal (the truncated
// key), which preserves that order; keys whose truncated keys collide are told
// apart by comparing full keys.
package hkey

import (
	"encoding/binary"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

const (
	Size = 10

	ShardBits  = 16
	LookupBits = 56
	TagBits    = 8

	// TruncatedBits is the width of the in-leaf truncated key.
	TruncatedBits = 48

	lookupMask = (uint64(1) << LookupBits) - 1
)

// Key is an 80-bit fixed-width key.
type Key [Size]byte

// Split derives the fixed-width key of an application key.
func Split(appKey []byte) Key {
	sum := sha3.Sum256(appKey)
	var k Key
	copy(k[:], sum[:Size])
	return k
}

// FromParts reassembles a key from its shard selector and in-shard ordinal.
func FromParts(shard uint16, ordinal uint64) Key {
	var k Key
	binary.BigEndian.PutUint16(k[0:2], shard)
	binary.BigEndian.PutUint64(k[2:10], ordinal)
	return k
}

// Shard returns the 16-bit shard selector.
func (k Key) Shard() uint16 {
	return binary.BigEndian.Uint16(k[0:2])
}

// Lookup returns the 56-bit lookup value.
func (k Key) Lookup() uint64 {
	return binary.BigEndian.Uint64(k[2:10]) >> TagBits & lookupMask
}

// Tag returns the 8-bit version tag.
func (k Key) Tag() uint8 {
	return k[9]
}

// Ordinal orders keys inside a shard: lookup<<8 | tag.
func (k Key) Ordinal() uint64 {
	return binary.BigEndian.Uint64(k[2:10])
}

// Truncated returns the high 48 bits of the ordinal, as stored in leaf slots.
func (k Key) Truncated() uint64 {
	return k.Ordinal() >> (64 - TruncatedBits)
}

func (k Key) Bytes() []byte {
	return k[:]
}

func (k Key) String() string {
	return hex.EncodeToString(k[:])
}

// Parse decodes a key from its binary form.
func Parse(b []byte) (Key, bool) {
	var k Key
	if len(b) != Size {
		return k, false
	}
	copy(k[:], b)
	return k, true
}
