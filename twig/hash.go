package twig

import (
	"encoding/hex"
	"hash"
)

const HashSize = 32

// Hash is a SHA-256 digest.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Domain prefixes keep the four node kinds from colliding.
const (
	prefixLeaf  = 0x00
	prefixNode  = 0x01
	prefixTwig  = 0x02
	prefixUpper = 0x03
)

func sum(hasher hash.Hash) Hash {
	var out Hash
	hasher.Sum(out[:0])
	return out
}

// hashLeaf computes H(0x00 || data).
func hashLeaf(hasher hash.Hash, data []byte) Hash {
	hasher.Reset()
	_, _ = hasher.Write([]byte{prefixLeaf})
	_, _ = hasher.Write(data)
	return sum(hasher)
}

// hashNode computes H(0x01 || level || left || right).
func hashNode(hasher hash.Hash, level uint8, left, right Hash) Hash {
	hasher.Reset()
	_, _ = hasher.Write([]byte{prefixNode, level})
	_, _ = hasher.Write(left[:])
	_, _ = hasher.Write(right[:])
	return sum(hasher)
}

// hashTwigRoot computes H(0x02 || entriesRoot || activeRoot).
func hashTwigRoot(hasher hash.Hash, entriesRoot, activeRoot Hash) Hash {
	hasher.Reset()
	_, _ = hasher.Write([]byte{prefixTwig})
	_, _ = hasher.Write(entriesRoot[:])
	_, _ = hasher.Write(activeRoot[:])
	return sum(hasher)
}

// hashUpper computes H(0x03 || level || left || right).
func hashUpper(hasher hash.Hash, level uint8, left, right Hash) Hash {
	hasher.Reset()
	_, _ = hasher.Write([]byte{prefixUpper, level})
	_, _ = hasher.Write(left[:])
	_, _ = hasher.Write(right[:])
	return sum(hasher)
}
