package twig

import (
	"crypto/sha256"
	"hash"
	"math/bits"
	"slices"
)

// Proof shows that Entry is a member of the tree with a given root.
// Paths are sibling hashes ordered from the bottom up.
type Proof struct {
	Entry Entry

	// EntryPath climbs from the entry leaf to the twig's entries root; its
	// length is log2 of the twig capacity.
	EntryPath []Hash

	// ActiveChunk is the bitmap chunk holding the entry's active bit and
	// ActivePath climbs from it to the twig's active-bits root.
	ActiveChunk []byte
	ActivePath  []Hash

	// UpperPath climbs from the twig root to the global root.
	UpperPath []Hash

	// Root is the global root when the proof was made. Verify ignores it.
	Root Hash
}

func (p *Proof) TwigID() uint64 {
	return p.Entry.ID >> len(p.EntryPath)
}

// Prove builds a membership proof for entry id, active or not.
func (m *Manager) Prove(id uint64) (*Proof, error) {
	g := m.groupOfTwig(m.TwigOf(id))
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, slot, err := g.locate(id)
	if err != nil {
		return nil, err
	}
	entries, tr, err := m.resident(t)
	if err != nil {
		return nil, err
	}
	c := slot / m.lay.chunkBits
	p := &Proof{
		Entry:       entries[slot],
		EntryPath:   tr.path(slot),
		ActiveChunk: slices.Clone(t.chunk(c)),
		ActivePath:  t.activeTree.path(c),
	}

	m.upper.mu.Lock()
	p.UpperPath = m.upper.pathLocked(t.id)
	p.Root = m.upper.rootLocked()
	m.upper.mu.Unlock()
	return p, nil
}

// Verify reports whether the proof recomputes to root and shows the entry as
// active.
func Verify(p *Proof, root Hash) bool {
	return verify(p, root, true)
}

// VerifyInclusion reports whether the proof recomputes to root, whether or
// not the entry is still active.
func VerifyInclusion(p *Proof, root Hash) bool {
	return verify(p, root, false)
}

func verify(p *Proof, root Hash, mustBeActive bool) bool {
	if p == nil || len(p.EntryPath) == 0 || len(p.EntryPath) > 32 || len(p.ActiveChunk) == 0 {
		return false
	}
	capacity := 1 << len(p.EntryPath)
	chunkBits := len(p.ActiveChunk) * 8
	if chunkBits<<len(p.ActivePath) != capacity {
		return false
	}
	if len(p.UpperPath) > 64-len(p.EntryPath) {
		return false
	}

	hasher := sha256.New()
	slot := int(p.Entry.ID & uint64(capacity-1))
	bit := slot % chunkBits
	if mustBeActive && p.ActiveChunk[bit/8]&(1<<(bit%8)) == 0 {
		return false
	}

	cur := hashLeaf(hasher, p.Entry.AppendBinary(nil))
	for l, sib := range p.EntryPath {
		cur = climb(hasher, hashNode, l+1, slot>>l, cur, sib)
	}
	entriesRoot := cur

	chunk := slot / chunkBits
	cur = hashLeaf(hasher, p.ActiveChunk)
	for l, sib := range p.ActivePath {
		cur = climb(hasher, hashNode, l+1, chunk>>l, cur, sib)
	}
	cur = hashTwigRoot(hasher, entriesRoot, cur)

	twigID := p.TwigID()
	if bits.Len64(twigID) > len(p.UpperPath) {
		return false
	}
	for l, sib := range p.UpperPath {
		cur = climb(hasher, hashUpper, l+1, int(twigID>>l), cur, sib)
	}
	return cur == root
}

func climb(hasher hash.Hash, f func(hash.Hash, uint8, Hash, Hash) Hash, level, pos int, cur, sib Hash) Hash {
	if pos&1 == 0 {
		return f(hasher, uint8(level), cur, sib)
	}
	return f(hasher, uint8(level), sib, cur)
}
