package twig

import (
	"crypto/sha256"
	"hash"
	"sync"
)

// upperTree is the global Merkle tree over twig roots, indexed by twig id.
// Its depth grows with the highest twig id; positions without a twig hash as
// the null twig, and a missing right sibling at level l as an empty subtree
// of that level.
type upperTree struct {
	mu     sync.Mutex
	hasher hash.Hash
	nulls  []Hash
	levels [][]Hash
}

func newUpperTree(nullTwig Hash) *upperTree {
	return &upperTree{
		hasher: sha256.New(),
		nulls:  []Hash{nullTwig},
	}
}

func (u *upperTree) null(level int) Hash {
	for len(u.nulls) <= level {
		l := len(u.nulls)
		u.nulls = append(u.nulls, hashUpper(u.hasher, uint8(l), u.nulls[l-1], u.nulls[l-1]))
	}
	return u.nulls[level]
}

func (u *upperTree) node(level, i int) Hash {
	if i < len(u.levels[level]) {
		return u.levels[level][i]
	}
	return u.null(level)
}

// grow extends the leaf level to n positions and rebuilds the spine.
func (u *upperTree) grow(n int) {
	if len(u.levels) > 0 && len(u.levels[0]) >= n {
		return
	}
	if len(u.levels) == 0 {
		u.levels = [][]Hash{nil}
	}
	for len(u.levels[0]) < n {
		u.levels[0] = append(u.levels[0], u.null(0))
	}
	for l := 1; len(u.levels[l-1]) > 1; l++ {
		if l == len(u.levels) {
			u.levels = append(u.levels, nil)
		}
		want := (len(u.levels[l-1]) + 1) / 2
		// new positions only ever hold null twigs, so existing nodes keep
		// their hashes
		for i := len(u.levels[l]); i < want; i++ {
			u.levels[l] = append(u.levels[l], hashUpper(u.hasher, uint8(l), u.node(l-1, 2*i), u.node(l-1, 2*i+1)))
		}
	}
}

func (u *upperTree) set(id uint64, root Hash) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.setLocked(id, root)
}

func (u *upperTree) setLocked(id uint64, root Hash) {
	i := int(id)
	u.grow(i + 1)
	u.levels[0][i] = root
	for l := 1; l < len(u.levels); l++ {
		i /= 2
		u.levels[l][i] = hashUpper(u.hasher, uint8(l), u.node(l-1, 2*i), u.node(l-1, 2*i+1))
	}
}

func (u *upperTree) depth() int {
	if len(u.levels) == 0 {
		return 0
	}
	return len(u.levels) - 1
}

func (u *upperTree) rootLocked() Hash {
	if len(u.levels) == 0 {
		return u.null(0)
	}
	return u.levels[len(u.levels)-1][0]
}

func (u *upperTree) root() Hash {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.rootLocked()
}

// pathLocked returns the sibling hashes from twig id up to the root.
func (u *upperTree) pathLocked(id uint64) []Hash {
	i := int(id)
	out := make([]Hash, 0, u.depth())
	for l := 0; l < u.depth(); l++ {
		out = append(out, u.node(l, i^1))
		i /= 2
	}
	return out
}
