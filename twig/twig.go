package twig

import (
	"fmt"
	"hash"
	"math/bits"
)

type State uint8

const (
	Fresh State = iota
	Full
	Inactive
	Pruned
)

var stateNames = [...]string{"fresh", "full", "inactive", "pruned"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", s)
}

const maxChunkBits = 256

// layout holds the shape and empty-subtree hashes shared by every twig of a
// manager.
type layout struct {
	capacity   int
	chunkBits  int
	chunks     int
	entryNulls []Hash
	chunkNulls []Hash
	nullTwig   Hash
}

func newLayout(hasher hash.Hash, capacity int) *layout {
	lay := &layout{capacity: capacity, chunkBits: min(capacity, maxChunkBits)}
	lay.chunks = capacity / lay.chunkBits
	lay.entryNulls = nullHashes(hasher, bits.Len(uint(capacity))-1, hashLeaf(hasher, nil))
	lay.chunkNulls = nullHashes(hasher, bits.Len(uint(lay.chunks))-1, hashLeaf(hasher, make([]byte, lay.chunkBits/8)))
	lay.nullTwig = hashTwigRoot(hasher, lay.entryNulls[len(lay.entryNulls)-1], lay.chunkNulls[len(lay.chunkNulls)-1])
	return lay
}

func (lay *layout) entryHeight() int {
	return len(lay.entryNulls) - 1
}

// Twig is a fixed-capacity Merkle subtree of entries plus an active bitmap.
type Twig struct {
	id    uint64
	lay   *layout
	state State
	count int

	active      []byte
	activeCount int
	activeTree  *tree

	entriesRoot Hash
	root        Hash

	// entries and entryTree stay resident while the twig is Fresh, and
	// afterwards until they are durably saved.
	entries   []Entry
	entryTree *tree

	unsaved bool
	dirty   bool
}

func newFreshTwig(hasher hash.Hash, lay *layout, id uint64) *Twig {
	t := &Twig{
		id:         id,
		lay:        lay,
		state:      Fresh,
		active:     make([]byte, lay.capacity/8),
		activeTree: newTree(lay.chunks, lay.chunkNulls),
		entries:    make([]Entry, 0, lay.capacity),
		entryTree:  newTree(lay.capacity, lay.entryNulls),
		dirty:      true,
	}
	t.entriesRoot = t.entryTree.root()
	t.root = hashTwigRoot(hasher, t.entriesRoot, t.activeTree.root())
	return t
}

func (t *Twig) ID() uint64 {
	return t.id
}

func (t *Twig) State() State {
	return t.state
}

func (t *Twig) Root() Hash {
	return t.root
}

func (t *Twig) Count() int {
	return t.count
}

func (t *Twig) ActiveCount() int {
	return t.activeCount
}

func (t *Twig) isActive(slot int) bool {
	return t.active[slot/8]&(1<<(slot%8)) != 0
}

func (t *Twig) chunk(i int) []byte {
	n := t.lay.chunkBits / 8
	return t.active[i*n : (i+1)*n]
}

func (t *Twig) rehashChunk(hasher hash.Hash, slot int) {
	c := slot / t.lay.chunkBits
	t.activeTree.set(hasher, c, hashLeaf(hasher, t.chunk(c)))
	t.root = hashTwigRoot(hasher, t.entriesRoot, t.activeTree.root())
	t.dirty = true
}

func (t *Twig) append(hasher hash.Hash, e Entry) {
	if t.state != Fresh || t.count >= t.lay.capacity {
		panic(fmt.Errorf("append to %v twig %d with %d entries", t.state, t.id, t.count))
	}
	slot := t.count
	t.entries = append(t.entries, e)
	t.entryTree.set(hasher, slot, hashLeaf(hasher, e.AppendBinary(nil)))
	t.entriesRoot = t.entryTree.root()
	t.count++
	t.active[slot/8] |= 1 << (slot % 8)
	t.activeCount++
	t.rehashChunk(hasher, slot)
}

func (t *Twig) clear(hasher hash.Hash, slot int) error {
	if t.state == Pruned {
		return twigErrf(t.id, ErrPrunedData, "deactivating slot %d", slot)
	}
	if slot >= t.count || !t.isActive(slot) {
		return twigErrf(t.id, ErrEntryInactive, "slot %d", slot)
	}
	t.active[slot/8] &^= 1 << (slot % 8)
	t.activeCount--
	t.rehashChunk(hasher, slot)
	return nil
}

// seal moves a filled Fresh twig to Full.
func (t *Twig) seal() error {
	if t.state != Fresh || t.count != t.lay.capacity {
		return twigErrf(t.id, ErrInvalidTransition, "seal %v twig with %d/%d entries", t.state, t.count, t.lay.capacity)
	}
	t.state = Full
	t.dirty = true
	return nil
}

// retire moves a Full twig with no active entries to Inactive.
func (t *Twig) retire() error {
	if t.state != Full || t.activeCount != 0 {
		return twigErrf(t.id, ErrInvalidTransition, "retire %v twig with %d active entries", t.state, t.activeCount)
	}
	t.state = Inactive
	t.dirty = true
	return nil
}

// prune moves an Inactive twig to Pruned, dropping everything but the root.
func (t *Twig) prune() error {
	if t.state != Inactive {
		return twigErrf(t.id, ErrInvalidTransition, "prune %v twig", t.state)
	}
	t.state = Pruned
	t.active = nil
	t.activeTree = nil
	t.entries = nil
	t.entryTree = nil
	t.unsaved = false
	t.dirty = true
	return nil
}

func (t *Twig) evict() {
	t.entries = nil
	t.entryTree = nil
	t.unsaved = false
}

func (t *Twig) resident() bool {
	return t.entryTree != nil
}
