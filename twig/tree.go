package twig

import "hash"

// tree is a complete binary Merkle tree with a power-of-two number of leaves.
// levels[0] holds the leaves, the last level holds the root.
type tree struct {
	levels [][]Hash
}

// newTree builds a tree whose every subtree at level l hashes to nulls[l].
func newTree(leaves int, nulls []Hash) *tree {
	t := &tree{}
	for n, l := leaves, 0; n >= 1; n, l = n/2, l+1 {
		level := make([]Hash, n)
		for i := range level {
			level[i] = nulls[l]
		}
		t.levels = append(t.levels, level)
	}
	return t
}

// nullHashes returns the hash of an empty subtree at each level, for a tree
// of the given height.
func nullHashes(hasher hash.Hash, height int, leaf Hash) []Hash {
	nulls := make([]Hash, height+1)
	nulls[0] = leaf
	for l := 1; l <= height; l++ {
		nulls[l] = hashNode(hasher, uint8(l), nulls[l-1], nulls[l-1])
	}
	return nulls
}

func (t *tree) height() int {
	return len(t.levels) - 1
}

func (t *tree) root() Hash {
	return t.levels[len(t.levels)-1][0]
}

func (t *tree) set(hasher hash.Hash, i int, h Hash) {
	t.levels[0][i] = h
	for l := 1; l < len(t.levels); l++ {
		i /= 2
		left, right := t.levels[l-1][2*i], t.levels[l-1][2*i+1]
		t.levels[l][i] = hashNode(hasher, uint8(l), left, right)
	}
}

// fill sets every leaf, then recomputes the tree bottom-up.
func (t *tree) fill(hasher hash.Hash, leaves []Hash) {
	copy(t.levels[0], leaves)
	for l := 1; l < len(t.levels); l++ {
		for i := range t.levels[l] {
			t.levels[l][i] = hashNode(hasher, uint8(l), t.levels[l-1][2*i], t.levels[l-1][2*i+1])
		}
	}
}

// path returns the sibling hashes from leaf i up to, but excluding, the root.
func (t *tree) path(i int) []Hash {
	out := make([]Hash, 0, t.height())
	for l := 0; l < t.height(); l++ {
		out = append(out, t.levels[l][i^1])
		i /= 2
	}
	return out
}
