package qmdb

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB has a single flat keyspace, so buckets are simulated via key
// prefixes: 'm' name marks that a bucket exists, 'd' name 0x00 key holds its
// data.
const (
	levelMarkerPrefix = 'm'
	levelDataPrefix   = 'd'
)

type levelStorage struct {
	ldb *leveldb.DB
}

func openLevelStorage(path string, o *Options) (storage, error) {
	lopt := &opt.Options{
		NoSync: o.IsTesting,
	}
	ldb, err := leveldb.OpenFile(path, lopt)
	if err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}
	return &levelStorage{ldb: ldb}, nil
}

func (s *levelStorage) BeginTx(writable bool) (storageTx, error) {
	if writable {
		tr, err := s.ldb.OpenTransaction()
		if err != nil {
			return nil, err
		}
		return &levelTx{s: s, tr: tr, r: tr}, nil
	}
	snap, err := s.ldb.GetSnapshot()
	if err != nil {
		return nil, err
	}
	return &levelTx{s: s, snap: snap, r: snap}, nil
}

func (s *levelStorage) Close() error {
	return s.ldb.Close()
}

// levelReader is implemented by both *leveldb.Transaction and *leveldb.Snapshot.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

type levelTx struct {
	s      *levelStorage
	tr     *leveldb.Transaction
	snap   *leveldb.Snapshot
	r      levelReader
	iters  []iterator.Iterator
	closed bool
}

func (tx *levelTx) Writable() bool { return tx.tr != nil }

func (tx *levelTx) get(key []byte) []byte {
	if tx.closed {
		panic("tx is closed")
	}
	v, err := tx.r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil
	} else if err != nil {
		panic(fmt.Errorf("qmdb: leveldb get: %w", err))
	}
	return v
}

func (tx *levelTx) Bucket(name string) storageBucket {
	if tx.get(levelMarkerKey(name)) == nil {
		return nil
	}
	return levelBucket{tx: tx, prefix: levelDataKey(name, nil)}
}

func (tx *levelTx) CreateBucket(name string) (storageBucket, error) {
	if tx.tr == nil {
		return nil, fmt.Errorf("tx not writable")
	}
	if err := tx.tr.Put(levelMarkerKey(name), []byte{1}, nil); err != nil {
		return nil, err
	}
	return levelBucket{tx: tx, prefix: levelDataKey(name, nil)}, nil
}

func (tx *levelTx) DeleteBucket(name string) error {
	if tx.tr == nil {
		return fmt.Errorf("tx not writable")
	}
	if tx.get(levelMarkerKey(name)) == nil {
		return ErrBucketNotFound
	}
	it := tx.tr.NewIterator(util.BytesPrefix(levelDataKey(name, nil)), nil)
	var keys [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}
	for _, k := range keys {
		if err := tx.tr.Delete(k, nil); err != nil {
			return err
		}
	}
	return tx.tr.Delete(levelMarkerKey(name), nil)
}

func (tx *levelTx) release() {
	for _, it := range tx.iters {
		it.Release()
	}
	tx.iters = nil
	if tx.snap != nil {
		tx.snap.Release()
	}
	tx.closed = true
}

func (tx *levelTx) Commit() error {
	if tx.closed {
		return nil
	}
	if tx.tr == nil {
		return fmt.Errorf("tx not writable")
	}
	tx.release()
	return tx.tr.Commit()
}

func (tx *levelTx) Rollback() error {
	if tx.closed {
		return nil
	}
	tx.release()
	if tx.tr != nil {
		tx.tr.Discard()
	}
	return nil
}

func (tx *levelTx) Size() int64 {
	sizes, err := tx.s.ldb.SizeOf([]util.Range{{Start: []byte{0}, Limit: []byte{0xFF}}})
	if err != nil {
		return 0
	}
	return sizes.Sum()
}

func levelMarkerKey(name string) []byte {
	k := make([]byte, 0, 1+len(name))
	k = append(k, levelMarkerPrefix)
	return append(k, name...)
}

func levelDataKey(name string, key []byte) []byte {
	k := make([]byte, 0, 2+len(name)+len(key))
	k = append(k, levelDataPrefix)
	k = append(k, name...)
	k = append(k, 0)
	return append(k, key...)
}

type levelBucket struct {
	tx     *levelTx
	prefix []byte
}

func (b levelBucket) key(key []byte) []byte {
	k := make([]byte, 0, len(b.prefix)+len(key))
	k = append(k, b.prefix...)
	return append(k, key...)
}

func (b levelBucket) Get(key []byte) []byte {
	return b.tx.get(b.key(key))
}

func (b levelBucket) Put(key, value []byte) error {
	if b.tx.tr == nil {
		return fmt.Errorf("tx not writable")
	}
	return b.tx.tr.Put(b.key(key), value, nil)
}

func (b levelBucket) Delete(key []byte) error {
	if b.tx.tr == nil {
		return fmt.Errorf("tx not writable")
	}
	return b.tx.tr.Delete(b.key(key), nil)
}

func (b levelBucket) Cursor() storageCursor {
	it := b.tx.r.NewIterator(util.BytesPrefix(b.prefix), nil)
	b.tx.iters = append(b.tx.iters, it)
	return &levelCursor{it: it, prefix: b.prefix}
}

func (b levelBucket) Stats() bucketStats {
	var st bucketStats
	it := b.tx.r.NewIterator(util.BytesPrefix(b.prefix), nil)
	defer it.Release()
	for it.Next() {
		st.KeyN++
		st.LeafInuse += int64(len(it.Key()) - len(b.prefix) + len(it.Value()))
	}
	return st
}

type levelCursor struct {
	it     iterator.Iterator
	prefix []byte
}

func (c *levelCursor) current(ok bool) ([]byte, []byte) {
	if !ok {
		return nil, nil
	}
	return c.it.Key()[len(c.prefix):], c.it.Value()
}

func (c *levelCursor) First() ([]byte, []byte) {
	return c.current(c.it.First())
}

func (c *levelCursor) Seek(seek []byte) ([]byte, []byte) {
	k := make([]byte, 0, len(c.prefix)+len(seek))
	k = append(k, c.prefix...)
	k = append(k, seek...)
	return c.current(c.it.Seek(k))
}

func (c *levelCursor) Next() ([]byte, []byte) {
	return c.current(c.it.Next())
}
