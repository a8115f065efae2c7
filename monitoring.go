package qmdb

import (
	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

type BucketStats struct {
	Keys  int
	Size  int64
	Alloc int64
}

type Stats struct {
	Index indexer.Stats
	Twigs twig.Stats

	Reads   uint64
	Writes  uint64
	Deletes uint64
	Proofs  uint64
	Flushes uint64

	// JournalCommitted is the last committed ordinal of every group journal.
	JournalCommitted []uint64

	StorageSize int64
	Buckets     map[string]BucketStats
}

func (s *Stats) TotalAlloc() int64 {
	var n int64
	for _, bs := range s.Buckets {
		n += bs.Alloc
	}
	return n
}

func (db *DB) Stats() (Stats, error) {
	if err := db.enter(); err != nil {
		return Stats{}, err
	}
	defer db.leave()

	st := Stats{
		Index:   db.ix.Stats(),
		Twigs:   db.twigs.Stats(),
		Reads:   db.ReadCount.Load(),
		Writes:  db.WriteCount.Load(),
		Deletes: db.DeleteCount.Load(),
		Proofs:  db.ProofCount.Load(),
		Flushes: db.FlushCount.Load(),
		Buckets: make(map[string]BucketStats, len(allBuckets)),
	}
	for _, j := range db.journals {
		st.JournalCommitted = append(st.JournalCommitted, j.Committed())
	}
	err := db.view(func(tx storageTx) error {
		st.StorageSize = tx.Size()
		for _, name := range allBuckets {
			bs := bucket(tx, name).Stats()
			st.Buckets[name] = BucketStats{
				Keys:  bs.KeyN,
				Size:  bs.LeafInuse,
				Alloc: bs.TotalAlloc(),
			}
		}
		return nil
	})
	return st, err
}
