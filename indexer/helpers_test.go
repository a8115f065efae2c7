package indexer

import (
	"reflect"
	"testing"

	"github.com/andreyvit/qmdb/hkey"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

// key builds a key of shard 0 with the given truncated key and tag.
func key(trunc uint64, tag byte) hkey.Key {
	return hkey.FromParts(0, trunc<<16|uint64(tag))
}

func setup(t testing.TB, cfg Config) *Indexer {
	t.Helper()
	if cfg.Shards == 0 {
		cfg.Shards = 1
	}
	return must(New(cfg))
}

func write(t testing.TB, ix *Indexer, f func(u *Unit)) {
	t.Helper()
	ensure(ix.Write(0, func(u *Unit) error {
		f(u)
		return nil
	}))
}

func read(t testing.TB, ix *Indexer, f func(u *Unit)) {
	t.Helper()
	ensure(ix.Read(0, func(u *Unit) error {
		f(u)
		return nil
	}))
}

func checkRanges(t testing.TB, u *Unit) []LeafRange {
	t.Helper()
	ranges := must(u.Ranges())
	var total int
	for i, r := range ranges {
		if len(r.Slots) == 0 {
			t.Errorf("leaf %d is empty", i)
		}
		if len(r.Slots) > r.Capacity {
			t.Errorf("leaf %d count %d > capacity %d", i, len(r.Slots), r.Capacity)
		}
		for j, s := range r.Slots {
			if j > 0 && r.Slots[j-1].Key > s.Key {
				t.Errorf("leaf %d slot %d out of order", i, j)
			}
			if i > 0 && s.Key < r.Start {
				t.Errorf("leaf %d slot %d key %d below start %d", i, j, s.Key, r.Start)
			}
			if r.End != 0 && s.Key >= r.End {
				t.Errorf("leaf %d slot %d key %d not below end %d", i, j, s.Key, r.End)
			}
		}
		if i > 0 && ranges[i-1].End != r.Start {
			t.Errorf("leaf %d range not contiguous with previous", i)
		}
		total += len(r.Slots)
	}
	if total != u.Len() {
		t.Errorf("leaves hold %d keys, Len = %d", total, u.Len())
	}
	return ranges
}

func hkeyShard1(trunc uint64) hkey.Key {
	return hkey.FromParts(1, trunc<<16)
}
