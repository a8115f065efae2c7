package qmdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/journal"
	"github.com/andreyvit/qmdb/twig"
)

const (
	boltFileName = "qmdb.db"
	levelDirName = "leveldb"
)

// DB is a sharded key-value store whose every version is an entry in a
// Merkle tree of twigs.
type DB struct {
	opt    Options
	dir    string
	logger *slog.Logger
	store  storage
	ix     *indexer.Indexer
	twigs  *twig.Manager

	journals    []*journal.Journal
	journalBase []uint64
	replaying   bool

	// life is held shared by every operation and exclusively by Close.
	life   sync.RWMutex
	closed bool

	flushLock sync.Mutex

	ReadCount   atomic.Uint64
	WriteCount  atomic.Uint64
	DeleteCount atomic.Uint64
	ProofCount  atomic.Uint64
	FlushCount  atomic.Uint64
}

// Open opens or creates the database in dir. With Memory storage dir is
// unused and may be empty.
func Open(dir string, opt Options) (*DB, error) {
	icfg, tcfg, err := opt.normalize()
	if err != nil {
		return nil, err
	}

	db := &DB{
		opt:    opt,
		dir:    dir,
		logger: opt.Logger,
	}
	db.store, err = openStorage(dir, &opt)
	if err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			db.closeJournals()
			db.store.Close()
		}
	}()

	db.ix, err = indexer.New(icfg)
	if err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}
	db.twigs, err = twig.New(tcfg, twigStore{db})
	if err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}

	if err := db.checkFormat(); err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}
	db.journalBase, err = db.load()
	if err != nil {
		return nil, fmt.Errorf("qmdb: loading: %w", err)
	}
	if err := db.openJournals(dir, db.journalBase); err != nil {
		return nil, fmt.Errorf("qmdb: %w", err)
	}
	if err := db.replay(db.journalBase); err != nil {
		return nil, err
	}

	if db.opt.Verbose {
		st := db.ix.Stats()
		db.logger.LogAttrs(context.Background(), slog.LevelDebug, "qmdb: opened",
			slog.String("dir", dir),
			slog.String("storage", opt.Storage.String()),
			slog.Int("keys", st.Keys),
			slog.Int("corrupt_shards", st.Corrupt),
			slog.String("root", db.twigs.Root().String()))
	}
	ok = true
	return db, nil
}

func openStorage(dir string, opt *Options) (storage, error) {
	if opt.Storage == Memory {
		return newMemStorage(), nil
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, err
	}
	switch opt.Storage {
	case LevelDB:
		return openLevelStorage(filepath.Join(dir, levelDirName), opt)
	default:
		return openBoltStorage(filepath.Join(dir, boltFileName), opt)
	}
}

func (db *DB) Options() Options {
	return db.opt
}

// Close flushes and closes the database. Operations after Close return
// ErrClosed.
func (db *DB) Close() error {
	db.life.Lock()
	defer db.life.Unlock()
	if db.closed {
		return nil
	}
	var errs []error
	if db.opt.Storage != Memory {
		errs = append(errs, db.checkpoint(nil))
	}
	db.closed = true
	errs = append(errs, db.closeJournals())
	errs = append(errs, db.store.Close())
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("qmdb: closing: %w", err)
	}
	return nil
}

func (db *DB) enter() error {
	db.life.RLock()
	if db.closed {
		db.life.RUnlock()
		return ErrClosed
	}
	return nil
}

func (db *DB) leave() {
	db.life.RUnlock()
}

// Root returns the current global root.
func (db *DB) Root() (Hash, error) {
	if err := db.enter(); err != nil {
		return Hash{}, err
	}
	defer db.leave()
	return db.twigs.Root(), nil
}

func (db *DB) groupOf(shard int) int {
	return shard % db.opt.TwigGroups
}
