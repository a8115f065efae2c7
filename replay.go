package qmdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/andreyvit/qmdb/journal"
)

type opKind uint8

const (
	opPut opKind = iota + 1
	opDelete
)

func (k opKind) String() string {
	switch k {
	case opPut:
		return "put"
	case opDelete:
		return "delete"
	default:
		return fmt.Sprintf("opKind(%d)", int(k))
	}
}

// journalOp is a journal record of one applied change.
type journalOp struct {
	Op    opKind `msgpack:"o"`
	Key   []byte `msgpack:"k"`
	Value []byte `msgpack:"v,omitempty"`
	Seq   uint64 `msgpack:"s,omitempty"`
}

const walDirName = "wal"

func walFileName(group int) string {
	return fmt.Sprintf("g%03d-*.wal", group)
}

// openJournals opens one journal per twig group. base holds the checkpoint
// of every group.
func (db *DB) openJournals(dir string, base []uint64) error {
	walDir := filepath.Join(dir, walDirName)
	if db.opt.NoJournal {
		if db.opt.Storage == Memory {
			return nil
		}
		if _, err := os.Stat(walDir); err == nil {
			db.logger.LogAttrs(context.Background(), slog.LevelWarn, "qmdb: journal disabled, discarding existing journal", slog.String("dir", walDir))
			if err := os.RemoveAll(walDir); err != nil {
				return err
			}
		}
		return nil
	}
	db.journals = make([]*journal.Journal, db.opt.TwigGroups)
	for g := range db.journals {
		j, err := journal.Open(walDir, journal.Options{
			FileName:    walFileName(g),
			MaxFileSize: db.opt.JournalMaxFileSize,
			DebugName:   fmt.Sprintf("qmdb-wal-%d", g),
			Base:        base[g],
			Logger:      db.logger,
			Verbose:     db.opt.Verbose,
		})
		if err != nil {
			db.closeJournals()
			return err
		}
		db.journals[g] = j
	}
	return nil
}

func (db *DB) closeJournals() error {
	var errs []error
	for _, j := range db.journals {
		if j != nil {
			errs = append(errs, j.Close())
		}
	}
	return errors.Join(errs...)
}

// logOp appends op to the group's journal and commits it. Call with the
// group locked.
func (db *DB) logOp(group int, op *journalOp) error {
	if db.journals == nil || db.replaying {
		return nil
	}
	j := db.journals[group]
	buf := encodeRecord(recordBytesPool.Get().([]byte), op)
	defer releaseRecordBytes(buf)
	committed := j.Committed()
	if err := j.WriteRecord(0, buf); err != nil {
		return fmt.Errorf("qmdb: journaling %v: %w", op.Op, err)
	}
	if err := j.Commit(); err != nil {
		if j.Committed() > committed {
			// Committed, so replay will apply it; only the rotation failed.
			db.logger.LogAttrs(context.Background(), slog.LevelError, "qmdb: journal rotation failed", slog.Int("group", group), slog.Any("err", err))
			return nil
		}
		return fmt.Errorf("qmdb: journaling %v: %w", op.Op, err)
	}
	return nil
}

// replay applies journal records written after each group's checkpoint.
// Operations on quarantined shards are skipped.
func (db *DB) replay(base []uint64) error {
	if db.journals == nil {
		return nil
	}
	start := time.Now()
	db.replaying = true
	defer func() { db.replaying = false }()

	var applied, skipped int
	for g, j := range db.journals {
		err := j.Records(base[g], func(rec journal.Record) error {
			var op journalOp
			if err := decodeRecord(rec.Data, &op); err != nil {
				return fmt.Errorf("record %d: %w", rec.Ordinal, err)
			}
			var err error
			switch op.Op {
			case opPut:
				_, err = db.put(op.Key, op.Value, op.Seq)
			case opDelete:
				err = db.delete(op.Key)
			default:
				return fmt.Errorf("record %d: unknown op %d", rec.Ordinal, op.Op)
			}
			if errors.Is(err, ErrCorruptLayout) {
				skipped++
				db.logger.LogAttrs(context.Background(), slog.LevelWarn, "qmdb: replay skipped op on quarantined shard",
					slog.Int("group", g),
					slog.Uint64("ordinal", rec.Ordinal),
					hexAttr("key", op.Key))
				return nil
			} else if err != nil {
				return fmt.Errorf("record %d: %v %s: %w", rec.Ordinal, op.Op, hexstr(op.Key), err)
			}
			applied++
			return nil
		})
		if err != nil {
			return fmt.Errorf("qmdb: replaying group %d: %w", g, err)
		}
	}
	if applied > 0 || skipped > 0 {
		db.logger.LogAttrs(context.Background(), slog.LevelInfo, "qmdb: replayed journal",
			slog.Int("applied", applied),
			slog.Int("skipped", skipped),
			slog.Duration("elapsed", time.Since(start)))
	}
	return nil
}
