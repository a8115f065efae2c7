package twig

import (
	"fmt"
	"math/bits"
	"slices"
)

// Record is the persisted state of one twig, kept apart from its entries.
type Record struct {
	State       State  `msgpack:"s"`
	Count       int    `msgpack:"n"`
	Root        Hash   `msgpack:"r"`
	EntriesRoot Hash   `msgpack:"e"`
	Active      []byte `msgpack:"a"`
}

// GroupRecord is the persisted state of a group, including its Fresh twig.
type GroupRecord struct {
	NextLocal uint64       `msgpack:"nl"`
	Fresh     *FreshRecord `msgpack:"f"`
}

type FreshRecord struct {
	Entries []Entry `msgpack:"e"`
	Active  []byte  `msgpack:"a"`
}

// Image is the unpersisted state of the manager.
type Image struct {
	Groups map[int]*GroupRecord
	Twigs  map[uint64]*Record

	// Unsaved holds entries of Full twigs whose save failed earlier.
	Unsaved map[uint64][]Entry
}

func (t *Twig) record() *Record {
	rec := &Record{
		State:       t.state,
		Count:       t.count,
		Root:        t.root,
		EntriesRoot: t.entriesRoot,
	}
	if t.active != nil {
		rec.Active = slices.Clone(t.active)
	}
	return rec
}

func (g *Group) twigIDs() []uint64 {
	ids := make([]uint64, 0, len(g.twigs))
	for id := range g.twigs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Checkpoint captures everything changed since the last Persisted call. Call
// it from inside Exclusive.
func (m *Manager) Checkpoint() *Image {
	img := &Image{
		Groups:  make(map[int]*GroupRecord),
		Twigs:   make(map[uint64]*Record),
		Unsaved: make(map[uint64][]Entry),
	}
	for i := range m.groups {
		g := &m.groups[i]
		if g.dirty {
			rec := &GroupRecord{NextLocal: g.nextLocal}
			if g.fresh != nil {
				rec.Fresh = &FreshRecord{
					Entries: slices.Clone(g.fresh.entries),
					Active:  slices.Clone(g.fresh.active),
				}
			}
			img.Groups[i] = rec
		}
		for id, t := range g.twigs {
			if t.dirty {
				img.Twigs[id] = t.record()
			}
			if t.unsaved {
				img.Unsaved[id] = t.entries
			}
		}
	}
	return img
}

// Persisted marks the state captured by img as durable. Call it from inside
// the same Exclusive as Checkpoint.
func (m *Manager) Persisted(img *Image) {
	for i := range img.Groups {
		m.groups[i].dirty = false
	}
	for id := range img.Twigs {
		m.groupOfTwig(id).twigs[id].dirty = false
	}
	for id := range img.Unsaved {
		m.groupOfTwig(id).twigs[id].evict()
	}
}

func (m *Manager) IsEmpty() bool {
	for i := range m.groups {
		if len(m.groups[i].twigs) > 0 {
			return false
		}
	}
	return true
}

// Restore rebuilds the manager from persisted group and twig records. Twig
// records newer than their group's Fresh twig are ignored; replaying the
// journal recreates them. Call it before any other use.
func (m *Manager) Restore(groups map[int]*GroupRecord, twigs map[uint64]*Record) error {
	n := uint64(len(m.groups))
	for i := range m.groups {
		g := &m.groups[i]
		grec := groups[i]
		if grec == nil {
			continue
		}
		g.nextLocal = grec.NextLocal
		limit := grec.NextLocal
		if grec.Fresh != nil {
			if grec.NextLocal == 0 {
				return fmt.Errorf("%w: group %d has a fresh twig but no twigs", ErrCorrupt, i)
			}
			limit--
			id := limit*n + uint64(i)
			t, err := m.restoreFresh(g, id, grec.Fresh)
			if err != nil {
				return err
			}
			g.fresh = t
			g.twigs[id] = t
			m.upper.set(id, t.root)
		}
		for local := uint64(0); local < limit; local++ {
			id := local*n + uint64(i)
			rec := twigs[id]
			if rec == nil {
				return twigErrf(id, ErrCorrupt, "missing record")
			}
			t, err := m.restoreTwig(id, rec)
			if err != nil {
				return err
			}
			g.twigs[id] = t
			m.upper.set(id, t.root)
		}
	}
	return nil
}

func (m *Manager) restoreFresh(g *Group, id uint64, rec *FreshRecord) (*Twig, error) {
	if len(rec.Entries) >= m.lay.capacity || len(rec.Active) != m.lay.capacity/8 {
		return nil, twigErrf(id, ErrCorrupt, "fresh twig with %d entries and %d bitmap bytes", len(rec.Entries), len(rec.Active))
	}
	t := newFreshTwig(g.hasher, m.lay, id)
	for i, e := range rec.Entries {
		if e.ID != id*uint64(m.lay.capacity)+uint64(i) {
			return nil, twigErrf(id, ErrCorrupt, "entry %d in slot %d", e.ID, i)
		}
		t.append(g.hasher, e)
	}
	for slot := range rec.Entries {
		if rec.Active[slot/8]&(1<<(slot%8)) == 0 {
			ensure(t.clear(g.hasher, slot))
		}
	}
	t.dirty = false
	return t, nil
}

func (m *Manager) restoreTwig(id uint64, rec *Record) (*Twig, error) {
	t := &Twig{
		id:          id,
		lay:         m.lay,
		state:       rec.State,
		count:       rec.Count,
		entriesRoot: rec.EntriesRoot,
		root:        rec.Root,
	}
	switch rec.State {
	case Full, Inactive:
		if rec.Count != m.lay.capacity || len(rec.Active) != m.lay.capacity/8 {
			return nil, twigErrf(id, ErrCorrupt, "%v twig with %d entries and %d bitmap bytes", rec.State, rec.Count, len(rec.Active))
		}
		hasher := m.groupOfTwig(id).hasher
		t.active = slices.Clone(rec.Active)
		for _, b := range t.active {
			t.activeCount += bits.OnesCount8(b)
		}
		t.activeTree = newTree(m.lay.chunks, m.lay.chunkNulls)
		leaves := make([]Hash, m.lay.chunks)
		for c := range leaves {
			leaves[c] = hashLeaf(hasher, t.chunk(c))
		}
		t.activeTree.fill(hasher, leaves)
		if root := hashTwigRoot(hasher, t.entriesRoot, t.activeTree.root()); root != rec.Root {
			return nil, twigErrf(id, ErrCorrupt, "root %v does not match record %v", root, rec.Root)
		}
		if (rec.State == Inactive) != (t.activeCount == 0) {
			return nil, twigErrf(id, ErrCorrupt, "%v twig with %d active entries", rec.State, t.activeCount)
		}
	case Pruned:
	default:
		return nil, twigErrf(id, ErrCorrupt, "unexpected state %v", rec.State)
	}
	return t, nil
}
