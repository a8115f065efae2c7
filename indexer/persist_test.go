package indexer

import (
	"errors"
	"testing"
)

func TestCompaction_preservesLookups(t *testing.T) {
	ix := setup(t, Config{CompactRatio: 1, CompactThreshold: 50})
	for i := uint64(0); i < 200; i++ {
		write(t, ix, func(u *Unit) {
			must(u.Insert(key(i, 0), i+1))
		})
	}
	for round := uint64(1); round <= 5; round++ {
		for i := uint64(0); i < 200; i++ {
			write(t, ix, func(u *Unit) {
				must(u.Replace(key(i, 0), i+1+(round-1)*1000, i+1+round*1000))
			})
		}
	}

	st := ix.Stats()
	if st.Compactions == 0 {
		t.Fatalf("Compactions = 0, wanted some")
	}
	deepEqual(t, st.Keys, 200)
	read(t, ix, func(u *Unit) {
		checkRanges(t, u)
		for i := uint64(0); i < 200; i++ {
			deepEqual(t, must(u.Lookup(key(i, 0))), []uint64{i + 1 + 5000})
		}
	})
}

func TestCompaction_idempotent(t *testing.T) {
	ix := setup(t, Config{CompactThreshold: 1 << 30})
	write(t, ix, func(u *Unit) {
		for i := uint64(0); i < 300; i++ {
			must(u.Insert(key(i*7, 0), i+1))
		}
		for i := uint64(0); i < 300; i += 3 {
			ensure(u.Remove(key(i*7, 0), i+1))
		}
		before := u.bufs.usedBytes()

		ensure(u.Compact())
		once := checkRanges(t, u)
		if after := u.bufs.usedBytes(); after >= before {
			t.Errorf("used bytes after compaction = %d, wanted less than %d", after, before)
		}
		deepEqual(t, u.lastSize, 200)
		deepEqual(t, u.changeCount, 0)

		ensure(u.Compact())
		deepEqual(t, checkRanges(t, u), once)
	})
}

func TestCheckpoint_restore(t *testing.T) {
	cfg := Config{Shards: 2, CompactThreshold: 1 << 30}
	ix := setup(t, cfg)
	write(t, ix, func(u *Unit) {
		for i := uint64(0); i < 3000; i++ {
			must(u.Insert(key(i*11, 0), i+1))
		}
	})

	var img *UnitImage
	var want []LeafRange
	read(t, ix, func(u *Unit) {
		img = u.Checkpoint()
		want = checkRanges(t, u)
	})
	if img == nil {
		t.Fatalf("Checkpoint() = nil for a dirty unit")
	}
	deepEqual(t, len(img.Buffers), img.Record.NumBuffers)
	if img.Record.NumBuffers < 2 {
		t.Fatalf("NumBuffers = %d, wanted several buffers", img.Record.NumBuffers)
	}

	raw := make([][]byte, img.Record.NumBuffers)
	for _, b := range img.Buffers {
		raw[b.Index] = b.Data
	}

	ix2 := setup(t, cfg)
	ensure(ix2.Restore(0, &img.Record, raw))
	read(t, ix2, func(u *Unit) {
		deepEqual(t, checkRanges(t, u), want)
		for i := uint64(0); i < 3000; i += 97 {
			deepEqual(t, must(u.Lookup(key(i*11, 0))), []uint64{i + 1})
		}
		if u.Checkpoint() != nil {
			t.Errorf("restored unit is dirty")
		}
	})

	write(t, ix, func(u *Unit) {
		u.Persisted(img)
		if u.Checkpoint() != nil {
			t.Errorf("Checkpoint() after Persisted is not nil")
		}
		must(u.Insert(key(5, 0), 9999))
		img2 := u.Checkpoint()
		deepEqual(t, len(img2.Buffers), 1)
		isempty(t, img2.Stale)
	})
}

func TestCheckpoint_staleBuffersAfterCompaction(t *testing.T) {
	ix := setup(t, Config{CompactThreshold: 1 << 30})
	write(t, ix, func(u *Unit) {
		for i := uint64(0); i < 2000; i++ {
			must(u.Insert(key(i, 0), i+1))
		}
		for i := uint64(0); i < 2000; i += 2 {
			ensure(u.Remove(key(i, 0), i+1))
		}
		u.Persisted(u.Checkpoint())
		n := u.bufs.Len()

		ensure(u.Compact())
		img := u.Checkpoint()
		if u.bufs.Len() >= n {
			t.Fatalf("buffers after compaction = %d, wanted fewer than %d", u.bufs.Len(), n)
		}
		deepEqual(t, len(img.Stale), n-u.bufs.Len())
		deepEqual(t, img.Stale[0], u.bufs.Len())
	})
}

func TestRestore_corruptShardIsQuarantined(t *testing.T) {
	cfg := Config{Shards: 2}
	ix := setup(t, cfg)
	write(t, ix, func(u *Unit) {
		for i := uint64(0); i < 50; i++ {
			must(u.Insert(key(i, 0), i+1))
		}
	})
	var img *UnitImage
	read(t, ix, func(u *Unit) {
		img = u.Checkpoint()
	})
	raw := [][]byte{append([]byte(nil), img.Buffers[0].Data...)}
	raw[0][BufferHeaderSize+5] ^= 0xFF

	ix2 := setup(t, cfg)
	err := ix2.Restore(0, &img.Record, raw)
	if !errors.Is(err, ErrCorruptLayout) {
		t.Fatalf("Restore err = %v, wanted ErrCorruptLayout", err)
	}
	err = ix2.Read(0, func(u *Unit) error { return nil })
	if !errors.Is(err, ErrCorruptLayout) {
		t.Fatalf("Read of quarantined shard err = %v, wanted ErrCorruptLayout", err)
	}
	err = ix2.Write(1, func(u *Unit) error {
		_, err := u.Insert(hkeyShard1(3), 1)
		return err
	})
	if err != nil {
		t.Fatalf("Write to healthy shard err = %v", err)
	}
	deepEqual(t, ix2.Stats().Corrupt, 1)
}

func TestRestore_rejectsMismatchedRecord(t *testing.T) {
	ix := setup(t, Config{})
	write(t, ix, func(u *Unit) {
		must(u.Insert(key(1, 0), 1))
	})
	var img *UnitImage
	read(t, ix, func(u *Unit) {
		img = u.Checkpoint()
	})
	rec := img.Record
	rec.Keys = 2
	err := setup(t, Config{}).Restore(0, &rec, [][]byte{img.Buffers[0].Data})
	if !errors.Is(err, ErrCorruptLayout) {
		t.Fatalf("Restore err = %v, wanted ErrCorruptLayout", err)
	}
}
