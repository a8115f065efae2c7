package qmdb

import (
	"bytes"
	"fmt"

	"github.com/andreyvit/qmdb/hkey"
	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

type (
	Position = indexer.Position
	Hash     = twig.Hash
	Entry    = twig.Entry
	Proof    = twig.Proof
)

// NoID marks an absent entry reference in Entry.OldID and Entry.OldNextKeyID.
const NoID = twig.NoID

// maxEntryID is the largest entry id a leaf slot can hold.
const maxEntryID = uint64(1)<<(8*indexer.ValueSize) - 1

// Put writes key = value as a new entry and returns the position of the leaf
// now indexing it. The previous entry of key, if any, becomes inactive. A seq
// lower than the current entry's fails with ErrStaleSequence.
func (db *DB) Put(key, value []byte, seq uint64) (Position, error) {
	if err := db.enter(); err != nil {
		return Position{}, err
	}
	defer db.leave()
	pos, err := db.put(key, value, seq)
	if err != nil {
		return Position{}, keyErr("put", key, err)
	}
	db.WriteCount.Add(1)
	return pos, nil
}

func (db *DB) put(key, value []byte, seq uint64) (Position, error) {
	k := hkey.Split(key)
	shard := db.ix.Route(k)
	var pos Position
	err := db.ix.Write(shard, func(u *indexer.Unit) error {
		return db.twigs.Update(db.groupOf(shard), func(g *twig.Group) error {
			cur, found, _, err := current(u, g, k, key)
			if err != nil {
				return err
			}
			if found && seq < cur.Seq {
				return fmt.Errorf("%w: seq %d, current entry has %d", ErrStaleSequence, seq, cur.Seq)
			}

			e := Entry{
				Key:          bytes.Clone(key),
				Value:        bytes.Clone(value),
				OldID:        NoID,
				OldNextKeyID: NoID,
				Seq:          seq,
			}
			if found {
				e.OldID = cur.ID
			}
			succID, ok, err := u.Successor(k)
			if err != nil {
				return err
			}
			if ok {
				succ, err := g.Entry(succID)
				if err != nil {
					return err
				}
				e.NextKey = hkey.Split(succ.Key)
				e.OldNextKeyID = succID
			}

			e.ID = g.NextID()
			if e.ID > maxEntryID {
				return fmt.Errorf("%w: entry id %d does not fit a leaf slot", ErrCapacityExceeded, e.ID)
			}
			if found {
				pos, err = u.Replace(k, cur.ID, e.ID)
			} else {
				pos, err = u.Insert(k, e.ID)
			}
			if err != nil {
				return err
			}
			// Twigs change only once the op is journaled; a failed op has its
			// unit change undone by ix.Write.
			if err := db.logOp(g.Index(), &journalOp{Op: opPut, Key: e.Key, Value: e.Value, Seq: seq}); err != nil {
				return err
			}
			g.Append(e)
			if found {
				return g.Deactivate(cur.ID)
			}
			return nil
		})
	})
	return pos, err
}

// current finds the active entry of key among the slots matching k, and
// returns how many slots matched. Put resolves truncation collisions by
// adding a slot; readers report them with mismatch.
func current(u *indexer.Unit, g *twig.Group, k hkey.Key, key []byte) (Entry, bool, int, error) {
	ids, err := u.Lookup(k)
	if err != nil {
		return Entry{}, false, 0, err
	}
	for _, id := range ids {
		e, err := g.Entry(id)
		if err != nil {
			return Entry{}, false, 0, err
		}
		if bytes.Equal(e.Key, key) {
			return e, true, len(ids), nil
		}
	}
	return Entry{}, false, len(ids), nil
}

// find is current for readers: slots matching k with none holding key fail
// with ErrKeyMismatch.
func find(u *indexer.Unit, g *twig.Group, k hkey.Key, key []byte) (Entry, bool, error) {
	e, found, n, err := current(u, g, k, key)
	if err == nil && !found && n > 0 {
		err = fmt.Errorf("%w: %d entries share truncated key %012x, none is %s", ErrKeyMismatch, n, k.Truncated(), hexstr(key))
	}
	return e, found, err
}

// Get returns the current value of key.
func (db *DB) Get(key []byte) ([]byte, bool, error) {
	if err := db.enter(); err != nil {
		return nil, false, err
	}
	defer db.leave()
	db.ReadCount.Add(1)
	e, found, err := db.lookup(key)
	if err != nil {
		return nil, false, keyErr("get", key, err)
	}
	if !found {
		return nil, false, nil
	}
	return e.Value, true, nil
}

func (db *DB) lookup(key []byte) (Entry, bool, error) {
	k := hkey.Split(key)
	shard := db.ix.Route(k)
	var e Entry
	var found bool
	err := db.ix.Read(shard, func(u *indexer.Unit) error {
		return db.twigs.View(db.groupOf(shard), func(g *twig.Group) error {
			var err error
			e, found, err = find(u, g, k, key)
			return err
		})
	})
	return e, found, err
}

// Delete removes key. The entry stays in its twig, inactive. Deleting an
// absent key is a no-op.
func (db *DB) Delete(key []byte) error {
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	if err := db.delete(key); err != nil {
		return keyErr("delete", key, err)
	}
	db.DeleteCount.Add(1)
	return nil
}

func (db *DB) delete(key []byte) error {
	k := hkey.Split(key)
	shard := db.ix.Route(k)
	return db.ix.Write(shard, func(u *indexer.Unit) error {
		return db.twigs.Update(db.groupOf(shard), func(g *twig.Group) error {
			cur, found, err := find(u, g, k, key)
			if err != nil || !found {
				return err
			}
			if err := u.Remove(k, cur.ID); err != nil {
				return err
			}
			if err := db.logOp(g.Index(), &journalOp{Op: opDelete, Key: cur.Key}); err != nil {
				return err
			}
			return g.Deactivate(cur.ID)
		})
	})
}

// Prove returns a membership proof for the current entry of key, or nil if
// key is absent.
func (db *DB) Prove(key []byte) (*Proof, error) {
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.leave()
	db.ProofCount.Add(1)

	k := hkey.Split(key)
	shard := db.ix.Route(k)
	var p *Proof
	err := db.ix.Read(shard, func(u *indexer.Unit) error {
		var e Entry
		var found bool
		err := db.twigs.View(db.groupOf(shard), func(g *twig.Group) error {
			var err error
			e, found, err = find(u, g, k, key)
			return err
		})
		if err != nil || !found {
			return err
		}
		p, err = db.twigs.Prove(e.ID)
		return err
	})
	if err != nil {
		return nil, keyErr("prove", key, err)
	}
	return p, nil
}

// ProveEntry returns a membership proof for entry id, current or historical.
// Entries of pruned twigs fail with ErrPrunedData.
func (db *DB) ProveEntry(id uint64) (*Proof, error) {
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.leave()
	db.ProofCount.Add(1)
	p, err := db.twigs.Prove(id)
	if err != nil {
		return nil, fmt.Errorf("qmdb: prove entry %d: %w", id, err)
	}
	return p, nil
}

// Entry returns entry id, current or historical.
func (db *DB) Entry(id uint64) (Entry, error) {
	if err := db.enter(); err != nil {
		return Entry{}, err
	}
	defer db.leave()
	e, err := db.twigs.Entry(id)
	if err != nil {
		return Entry{}, fmt.Errorf("qmdb: entry %d: %w", id, err)
	}
	return e, nil
}

// Verify reports whether p proves a currently active entry under root.
func Verify(p *Proof, root Hash) bool {
	return p != nil && twig.Verify(p, root)
}

// VerifyInclusion reports whether p proves an entry, active or not, under
// root.
func VerifyInclusion(p *Proof, root Hash) bool {
	return p != nil && twig.VerifyInclusion(p, root)
}

// Prune discards the entries of an Inactive twig, keeping its root. Pending
// changes are flushed first so the pruned twig is never needed by replay.
func (db *DB) Prune(twigID uint64) error {
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	return db.checkpoint(func() error {
		if err := db.twigs.Prune(twigID); err != nil {
			return fmt.Errorf("qmdb: prune: %w", err)
		}
		return nil
	})
}

// PruneInactive prunes every Inactive twig and returns how many were pruned.
func (db *DB) PruneInactive() (int, error) {
	if err := db.enter(); err != nil {
		return 0, err
	}
	defer db.leave()
	var n int
	err := db.checkpoint(func() error {
		var err error
		n, err = db.twigs.PruneInactive()
		if err != nil {
			return fmt.Errorf("qmdb: prune: %w", err)
		}
		return nil
	})
	return n, err
}

// TwigState reports the lifecycle state of a twig.
func (db *DB) TwigState(twigID uint64) (twig.State, bool) {
	return db.twigs.TwigState(twigID)
}

// TwigOf returns the id of the twig holding entry id.
func (db *DB) TwigOf(id uint64) uint64 {
	return db.twigs.TwigOf(id)
}
