// Package indexer maps 80-bit keys to entry ids through per-shard units of
// packed, append-only leaves.
package indexer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/andreyvit/qmdb/hkey"
)

// Indexer is a fixed set of independently locked units.
type Indexer struct {
	cfg    Config
	units  []Unit
	logger *slog.Logger
}

func New(cfg Config) (*Indexer, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	ix := &Indexer{
		cfg:    cfg,
		units:  make([]Unit, cfg.Shards),
		logger: cfg.Logger,
	}
	if ix.logger == nil {
		ix.logger = slog.Default()
	}
	for i := range ix.units {
		ix.units[i].init(i, &ix.cfg)
	}
	return ix, nil
}

func (ix *Indexer) Config() Config {
	return ix.cfg
}

func (ix *Indexer) Shards() int {
	return len(ix.units)
}

// Route returns the unit responsible for k.
func (ix *Indexer) Route(k hkey.Key) int {
	return int(k.Shard()) % len(ix.units)
}

// Read runs f with the unit read-locked.
func (ix *Indexer) Read(shard int, f func(u *Unit) error) error {
	u := &ix.units[shard]
	u.mu.RLock()
	defer u.mu.RUnlock()
	if u.corrupt != nil {
		return u.corrupt
	}
	return f(u)
}

// Write runs f with the unit write-locked. If f fails, every change it made to
// the unit is undone. Otherwise the unit is compacted afterwards when enough
// changes accumulated.
func (ix *Indexer) Write(shard int, f func(u *Unit) error) error {
	u := &ix.units[shard]
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.corrupt != nil {
		return u.corrupt
	}
	u.begin()
	if err := f(u); err != nil {
		u.rollback()
		return err
	}
	u.end()
	ix.maybeCompact(u)
	return nil
}

// Exclusive runs f with every unit write-locked, in shard order. Corrupt
// units are passed too; check Corrupt.
func (ix *Indexer) Exclusive(f func(units []*Unit) error) error {
	units := make([]*Unit, len(ix.units))
	for i := range ix.units {
		ix.units[i].mu.Lock()
		units[i] = &ix.units[i]
	}
	defer func() {
		for i := range ix.units {
			ix.units[i].mu.Unlock()
		}
	}()
	return f(units)
}

func (u *Unit) Corrupt() error {
	return u.corrupt
}

func (ix *Indexer) maybeCompact(u *Unit) {
	if !u.compactionDue() {
		return
	}
	before := u.bufs.Len()
	if err := u.Compact(); err != nil {
		ix.logger.LogAttrs(context.Background(), slog.LevelWarn, "indexer: compaction failed", slog.Int("shard", u.shard), slog.Any("err", err))
		return
	}
	if ix.cfg.Verbose {
		ix.logger.LogAttrs(context.Background(), slog.LevelDebug, "indexer: compacted",
			slog.Int("shard", u.shard),
			slog.Int("keys", u.keys),
			slog.Int("buffers_before", before),
			slog.Int("buffers_after", u.bufs.Len()))
	}
}

// Restore loads a unit from its persisted form. A unit that fails validation
// is quarantined: every later operation on it returns ErrCorruptLayout.
func (ix *Indexer) Restore(shard int, rec *UnitRecord, bufs [][]byte) error {
	u := &ix.units[shard]
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := u.restore(rec, bufs); err != nil {
		err = shardErrf(shard, err, "restoring unit")
		ix.quarantine(u, err)
		return err
	}
	return nil
}

// Quarantine marks a unit corrupt.
func (ix *Indexer) Quarantine(shard int, err error) {
	u := &ix.units[shard]
	u.mu.Lock()
	defer u.mu.Unlock()
	ix.quarantine(u, err)
}

func (ix *Indexer) quarantine(u *Unit, err error) {
	u.corrupt = fmt.Errorf("%w: shard %d quarantined: %v", ErrCorruptLayout, u.shard, err)
	u.index.Clear(false)
	u.bufs = newBufferList(ix.cfg.payload(), ix.cfg.MaxBuffers)
	u.keys = 0
	u.dirty = false
	ix.logger.LogAttrs(context.Background(), slog.LevelError, "indexer: shard quarantined", slog.Int("shard", u.shard), slog.Any("err", err))
}

type Stats struct {
	Keys        int
	Leaves      int
	Buffers     int
	UsedBytes   int
	Compactions int
	Corrupt     int
}

func (ix *Indexer) Stats() Stats {
	var st Stats
	for i := range ix.units {
		u := &ix.units[i]
		u.mu.RLock()
		if u.corrupt != nil {
			st.Corrupt++
		}
		st.Keys += u.keys
		st.Leaves += u.index.Len()
		st.Buffers += u.bufs.Len()
		st.UsedBytes += u.bufs.usedBytes()
		st.Compactions += u.compactions
		u.mu.RUnlock()
	}
	return st
}
