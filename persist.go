package qmdb

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

// Buckets of the persisted layout.
const (
	metaBucket    = "meta"    // "format" → formatRecord, "g" group:16 → groupState
	buffersBucket = "buffers" // shard:16 buffer:32 → encoded buffer
	unitsBucket   = "units"   // shard:16 → indexer.UnitRecord
	twigsBucket   = "twigs"   // twig:64 → []twig.Entry
	rootsBucket   = "roots"   // twig:64 → twig.Record
)

var allBuckets = []string{metaBucket, buffersBucket, unitsBucket, twigsBucket, rootsBucket}

const formatVersion = 1

var formatKey = []byte("format")

type formatRecord struct {
	Version      int `msgpack:"v"`
	Shards       int `msgpack:"sh"`
	TwigCapacity int `msgpack:"tc"`
	TwigGroups   int `msgpack:"tg"`
}

// groupState is the checkpoint of one twig group: its twig state and the
// last journal record it reflects.
type groupState struct {
	Twig    *twig.GroupRecord `msgpack:"t"`
	Journal uint64            `msgpack:"j"`
}

func groupKey(group int) []byte {
	bb := bytesBuilder{make([]byte, 0, 3)}
	bb.AppendByte('g')
	bb.AppendFixedUint16(uint16(group))
	return bb.Buf
}

func shardKey(shard int) []byte {
	bb := bytesBuilder{make([]byte, 0, 2)}
	bb.AppendFixedUint16(uint16(shard))
	return bb.Buf
}

func bufferKey(shard, index int) []byte {
	bb := bytesBuilder{make([]byte, 0, 6)}
	bb.AppendFixedUint16(uint16(shard))
	bb.AppendFixedUint32(uint32(index))
	return bb.Buf
}

func twigKey(id uint64) []byte {
	bb := bytesBuilder{make([]byte, 0, 8)}
	bb.AppendFixedUint64(id)
	return bb.Buf
}

func decodeTwigKey(k []byte) (uint64, error) {
	d := makeByteDecoder(k)
	id, err := d.FixedUint64()
	if err != nil {
		return 0, err
	}
	return id, d.End()
}

func (db *DB) update(f func(tx storageTx) error) error {
	tx, err := db.store.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := f(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (db *DB) view(f func(tx storageTx) error) error {
	tx, err := db.store.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return f(tx)
}

func bucket(tx storageTx, name string) storageBucket {
	b := tx.Bucket(name)
	if b == nil {
		panic(fmt.Errorf("qmdb: missing bucket %q", name))
	}
	return b
}

// twigStore keeps entries and records of twigs that left the Fresh state.
type twigStore struct {
	db *DB
}

var _ twig.Store = twigStore{}

func (s twigStore) SaveEntries(twigID uint64, entries []twig.Entry, rec *twig.Record) error {
	return s.db.update(func(tx storageTx) error {
		return putTwig(tx, twigID, entries, rec)
	})
}

func putTwig(tx storageTx, twigID uint64, entries []twig.Entry, rec *twig.Record) error {
	k := twigKey(twigID)
	if entries != nil {
		if err := bucket(tx, twigsBucket).Put(k, encodeRecord(nil, entries)); err != nil {
			return err
		}
	}
	if rec != nil {
		if err := bucket(tx, rootsBucket).Put(k, encodeRecord(nil, rec)); err != nil {
			return err
		}
	}
	return nil
}

func (s twigStore) LoadEntries(twigID uint64) ([]twig.Entry, error) {
	var entries []twig.Entry
	err := s.db.view(func(tx storageTx) error {
		raw := bucket(tx, twigsBucket).Get(twigKey(twigID))
		if raw == nil {
			return fmt.Errorf("%w: no entries stored", twig.ErrCorrupt)
		}
		return decodeRecord(raw, &entries)
	})
	return entries, err
}

func (s twigStore) PruneEntries(twigID uint64, rec *twig.Record) error {
	return s.db.update(func(tx storageTx) error {
		k := twigKey(twigID)
		if err := bucket(tx, twigsBucket).Delete(k); err != nil {
			return err
		}
		return bucket(tx, rootsBucket).Put(k, encodeRecord(nil, rec))
	})
}

// checkFormat creates the buckets and the format record of a new database,
// or verifies the format record of an existing one.
func (db *DB) checkFormat() error {
	want := formatRecord{
		Version:      formatVersion,
		Shards:       db.opt.Shards,
		TwigCapacity: db.opt.TwigCapacity,
		TwigGroups:   db.opt.TwigGroups,
	}
	return db.update(func(tx storageTx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		meta := bucket(tx, metaBucket)
		raw := meta.Get(formatKey)
		if raw == nil {
			return meta.Put(formatKey, encodeRecord(nil, &want))
		}
		var have formatRecord
		if err := decodeRecord(raw, &have); err != nil {
			return err
		}
		if have != want {
			return fmt.Errorf("%w: stored %+v, opened with %+v", ErrIncompatible, have, want)
		}
		return nil
	})
}

// load restores the indexer and the twig manager from storage and returns
// the journal checkpoint of every group.
func (db *DB) load() ([]uint64, error) {
	checkpoints := make([]uint64, db.opt.TwigGroups)
	err := db.view(func(tx storageTx) error {
		if err := db.loadUnits(tx); err != nil {
			return err
		}

		groups := make(map[int]*twig.GroupRecord)
		meta := bucket(tx, metaBucket)
		for g := range checkpoints {
			raw := meta.Get(groupKey(g))
			if raw == nil {
				continue
			}
			var gs groupState
			if err := decodeRecord(raw, &gs); err != nil {
				return fmt.Errorf("group %d: %w", g, err)
			}
			groups[g] = gs.Twig
			checkpoints[g] = gs.Journal
		}

		twigs := make(map[uint64]*twig.Record)
		c := bucket(tx, rootsBucket).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			id, err := decodeTwigKey(k)
			if err != nil {
				return err
			}
			rec := new(twig.Record)
			if err := decodeRecord(v, rec); err != nil {
				return fmt.Errorf("twig %d: %w", id, err)
			}
			twigs[id] = rec
		}
		return db.twigs.Restore(groups, twigs)
	})
	return checkpoints, err
}

func (db *DB) loadUnits(tx storageTx) error {
	units := bucket(tx, unitsBucket)
	bufs := bucket(tx, buffersBucket)
	c := units.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		d := makeByteDecoder(k)
		s, err := d.FixedUint16()
		if err == nil {
			err = d.End()
		}
		if err != nil {
			return fmt.Errorf("units: %w", err)
		}
		shard := int(s)
		if shard >= db.ix.Shards() {
			return fmt.Errorf("%w: unit record for shard %d", ErrIncompatible, shard)
		}

		var rec indexer.UnitRecord
		if err := decodeRecord(v, &rec); err != nil {
			db.ix.Quarantine(shard, err)
			continue
		}
		raw := make([][]byte, 0, rec.NumBuffers)
		prefix := shardKey(shard)
		bc := bufs.Cursor()
		for bk, bv := bc.Seek(prefix); bk != nil && len(bk) == len(prefix)+4 && bk[0] == prefix[0] && bk[1] == prefix[1]; bk, bv = bc.Next() {
			d := makeByteDecoder(bk[len(prefix):])
			idx := int(must(d.FixedUint32()))
			if idx != len(raw) {
				break
			}
			raw = append(raw, slices.Clone(bv))
		}
		// a failed restore quarantines the shard; keep loading the others
		_ = db.ix.Restore(shard, &rec, raw)
	}
	return nil
}

// Flush makes every change durable: commits and syncs the journals, writes
// the dirty indexer and twig state in one storage transaction along with
// per-group journal checkpoints, then trims journal segments the checkpoint
// covers.
func (db *DB) Flush() error {
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	return db.checkpoint(nil)
}

// checkpoint flushes, then runs then (if not nil) before any other operation
// can proceed.
func (db *DB) checkpoint(then func() error) error {
	db.flushLock.Lock()
	defer db.flushLock.Unlock()

	checkpoints := make([]uint64, len(db.journals))
	err := db.ix.Exclusive(func(units []*indexer.Unit) error {
		err := db.twigs.Exclusive(func() error {
			return db.flushLocked(units, checkpoints)
		})
		if err != nil {
			return fmt.Errorf("qmdb: flush: %w", err)
		}
		if then != nil {
			return then()
		}
		return nil
	})

	for g, j := range db.journals {
		if checkpoints[g] == 0 {
			continue
		}
		if _, err := j.Trim(checkpoints[g]); err != nil {
			db.logger.LogAttrs(context.Background(), slog.LevelWarn, "qmdb: trimming journal failed", slog.Int("group", g), slog.Any("err", err))
		}
	}
	return err
}

func (db *DB) flushLocked(units []*indexer.Unit, checkpoints []uint64) error {
	for g, j := range db.journals {
		if err := j.Commit(); err != nil {
			return err
		}
		if err := j.Sync(); err != nil {
			return err
		}
		checkpoints[g] = j.Committed()
	}

	var images []*indexer.UnitImage
	for _, u := range units {
		if img := u.Checkpoint(); img != nil {
			images = append(images, img)
		}
	}
	timg := db.twigs.Checkpoint()
	if len(images) == 0 && len(timg.Groups) == 0 && len(timg.Twigs) == 0 && len(timg.Unsaved) == 0 {
		return nil
	}

	err := db.update(func(tx storageTx) error {
		if err := putUnits(tx, images); err != nil {
			return err
		}
		for _, id := range sortedKeys(timg.Unsaved) {
			if err := putTwig(tx, id, timg.Unsaved[id], nil); err != nil {
				return err
			}
		}
		for _, id := range sortedKeys(timg.Twigs) {
			if err := putTwig(tx, id, nil, timg.Twigs[id]); err != nil {
				return err
			}
		}
		meta := bucket(tx, metaBucket)
		for _, g := range sortedKeys(timg.Groups) {
			gs := groupState{Twig: timg.Groups[g], Journal: db.journalBase[g]}
			if g < len(checkpoints) {
				gs.Journal = checkpoints[g]
			}
			if err := meta.Put(groupKey(g), encodeRecord(nil, &gs)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, img := range images {
		units[img.Shard].Persisted(img)
	}
	db.twigs.Persisted(timg)
	db.FlushCount.Add(1)

	if db.opt.Verbose {
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "qmdb: flushed",
			slog.Int("units", len(images)),
			slog.Int("twigs", len(timg.Twigs)),
			slog.Int("groups", len(timg.Groups)))
	}
	return nil
}

func putUnits(tx storageTx, images []*indexer.UnitImage) error {
	units := bucket(tx, unitsBucket)
	bufs := bucket(tx, buffersBucket)
	for _, img := range images {
		for _, bi := range img.Buffers {
			if err := bufs.Put(bufferKey(img.Shard, bi.Index), bi.Data); err != nil {
				return err
			}
		}
		for _, i := range img.Stale {
			if err := bufs.Delete(bufferKey(img.Shard, i)); err != nil {
				return err
			}
		}
		if err := units.Put(shardKey(img.Shard), encodeRecord(nil, &img.Record)); err != nil {
			return err
		}
	}
	return nil
}

func sortedKeys[K int | uint64, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
