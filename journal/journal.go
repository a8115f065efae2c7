// Package journal implements WAL-like append-only “journal” files.
//
// A journal is a directory of segment files. Records are appended to the
// last segment and become visible to readers once committed; a commit is a
// checksum trailer covering everything written to the segment so far, so a
// torn or corrupted tail is dropped on read. Segments rotate at commit
// boundaries once they reach MaxFileSize.
//
// Every record gets an ordinal, starting with 1 and continuing across
// segments and restarts. Segment file names carry the segment number, its
// start time and the ordinal of its first record.
//
// File format:
//
//   - file = segmentHeader (record* commit)*
//   - segmentHeader = magic:64 version:8 pad:8 flags:16 pad:32 segmentNumber:32 timestamp:32 prevChecksum:64 journalInvariant:256 segmentInvariant:256 reserved:192 checksum:64
//   - record = (size<<1):uvarint timestampDelta:uvarint bytes*
//   - commit = xxhash64 of the segment so far, with bit 0 set, little-endian
package journal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/andreyvit/qmdb/mmap"
)

var (
	ErrIncompatible       = fmt.Errorf("incompatible journal")
	ErrUnsupportedVersion = fmt.Errorf("unsupported journal version")
	ErrMissingRecords     = fmt.Errorf("journal records missing")
	ErrClosed             = fmt.Errorf("journal closed")
	errCorruptedFile      = fmt.Errorf("corrupted journal segment file")
)

type Options struct {
	Context          context.Context
	FileName         string // e.g. "mydb-*.bin"
	MaxFileSize      int64  // new segment after this size
	DebugName        string
	Now              func() time.Time
	JournalInvariant [32]byte
	SegmentInvariant [32]byte

	// Base is the ordinal of the last record known to precede an empty
	// journal; its first record gets Base+1. Ignored if segments exist.
	Base uint64

	Logger  *slog.Logger
	OnLoad  func()
	Verbose bool
}

const DefaultMaxFileSize = 4 * 1024 * 1024

// Journal represents a set of AOFs.
type Journal struct {
	context          context.Context
	maxFileSize      int64
	fileNamePrefix   string
	fileNameSuffix   string
	debugName        string
	dir              string
	now              func() time.Time
	logger           *slog.Logger
	aligned          bool
	verbose          bool
	journalInvariant [32]byte
	segmentInvariant [32]byte

	writeLock sync.Mutex
	writeErr  error
	closed    bool
	segments  []segment
	writeSeg  uint32
	writeRec  uint64
	committed uint64
	segWriter *segmentWriter
}

// Record is a committed record. Data is only valid during the callback that
// receives it.
type Record struct {
	Ordinal   uint64
	Timestamp uint32
	Data      []byte
}

// Open opens the journal in dir, creating the directory if needed, and
// positions the writer after the last committed record.
func Open(dir string, o Options) (*Journal, error) {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.FileName == "" {
		o.FileName = "*"
	}
	prefix, suffix, _ := strings.Cut(o.FileName, "*")
	if o.DebugName == "" {
		o.DebugName = "journal"
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	j := &Journal{
		context:          o.Context,
		maxFileSize:      o.MaxFileSize,
		fileNamePrefix:   prefix,
		fileNameSuffix:   suffix,
		debugName:        o.DebugName,
		dir:              dir,
		now:              o.Now,
		aligned:          false,
		verbose:          o.Verbose,
		journalInvariant: o.JournalInvariant,
		segmentInvariant: o.SegmentInvariant,
		logger:           o.Logger,
	}
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("%v: %w", j.debugName, err)
	}
	j.writeRec, j.committed = o.Base, o.Base
	if err := j.load(); err != nil {
		return nil, fmt.Errorf("%v: %w", j.debugName, err)
	}
	if o.OnLoad != nil {
		o.OnLoad()
	}
	return j, nil
}

func (j *Journal) Now() uint32 {
	v := j.now().Unix()
	if v < 0 {
		panic("time travel disallowed")
	}
	u := uint64(v)
	if u&0xFFFF_FFFF_0000_0000 != 0 {
		panic("time travel disallowed both ways")
	}
	return uint32(u)
}

func (j *Journal) String() string {
	return j.debugName
}

func (j *Journal) load() error {
	segs, err := j.listSegments()
	if err != nil {
		return err
	}

	for len(segs) > 0 {
		last := segs[len(segs)-1]
		committed, err := j.scanSegment(last, 0, nil)
		if err == errCorruptedFile {
			j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: deleting corrupted file", slog.String("jrnl", j.debugName), slog.String("file", last.name))
			if err := os.Remove(filepath.Join(j.dir, last.name)); err != nil {
				return fmt.Errorf("journal: failed to delete corrupted file: %w", err)
			}
			segs = segs[:len(segs)-1]
			continue
		} else if err != nil {
			return err
		}
		j.writeSeg = last.seq
		j.writeRec = committed
		j.committed = committed
		break
	}
	j.segments = segs
	return nil
}

func (j *Journal) listSegments() ([]segment, error) {
	ents, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, err
	}
	var segs []segment
	for _, ent := range ents {
		if err := j.context.Err(); err != nil {
			return nil, err
		}
		if !ent.Type().IsRegular() {
			continue
		}
		name := ent.Name()
		base, ok := strings.CutPrefix(name, j.fileNamePrefix)
		if !ok {
			continue
		}
		base, ok = strings.CutSuffix(base, j.fileNameSuffix)
		if !ok {
			continue
		}
		seq, ts, id, err := parseSegmentName(base)
		if err != nil {
			return nil, err
		}
		if n := len(segs); n > 0 && segs[n-1].seq >= seq {
			return nil, fmt.Errorf("segment %q is out of order", name)
		}
		segs = append(segs, segment{name: name, seq: seq, ts: ts, firstID: id})
	}
	return segs, nil
}

func (j *Journal) fail(err error) error {
	if err == nil {
		return nil
	}

	j.logger.LogAttrs(j.context, slog.LevelError, "journal: failed", slog.String("jrnl", j.debugName), slog.Any("err", err))

	j.closeSegment_locked()

	if j.writeErr == nil {
		j.writeErr = err
	}
	return err
}

func (j *Journal) openFile(name string, writable bool) (*os.File, error) {
	fn := filepath.Join(j.dir, name)
	if writable {
		return os.OpenFile(fn, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	} else {
		return os.Open(fn)
	}
}

// WriteRecord appends a record to the current transaction. A zero timestamp
// means now.
func (j *Journal) WriteRecord(timestamp uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.closed {
		return ErrClosed
	}
	if j.writeErr != nil {
		return j.writeErr
	}

	if timestamp == 0 {
		timestamp = j.Now()
	}

	if j.segWriter == nil {
		sw, err := startSegment(j, j.writeSeg+1, timestamp, j.writeRec+1)
		if err != nil {
			return j.fail(err)
		}
		j.writeSeg++
		j.segWriter = sw
	}

	if err := j.segWriter.writeRecord(timestamp, data); err != nil {
		return j.fail(err)
	}
	j.writeRec++
	return nil
}

// Commit makes every record written so far visible to readers, rotating the
// segment if it grew past MaxFileSize.
func (j *Journal) Commit() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	if err := j.segWriter.commit(); err != nil {
		return j.fail(err)
	}
	j.committed = j.writeRec
	if j.segWriter.size >= j.maxFileSize {
		return j.rotate_locked()
	}
	return nil
}

// Rotate commits and closes the current segment; the next record starts a
// new one.
func (j *Journal) Rotate() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	if err := j.segWriter.commit(); err != nil {
		return j.fail(err)
	}
	j.committed = j.writeRec
	return j.rotate_locked()
}

func (j *Journal) rotate_locked() error {
	sw := j.segWriter
	if err := mmap.Fdatasync(sw.f, nil); err != nil {
		return j.fail(err)
	}
	j.segWriter = nil
	if err := sw.close(); err != nil {
		return j.fail(err)
	}
	return nil
}

// Sync makes committed records durable.
func (j *Journal) Sync() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	if j.writeErr != nil {
		return j.writeErr
	}
	if j.segWriter == nil {
		return nil
	}
	return j.fail(mmap.Fdatasync(j.segWriter.f, nil))
}

// Committed returns the ordinal of the last committed record, or 0.
func (j *Journal) Committed() uint64 {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.committed
}

// Err returns the error that stopped the writer, if any.
func (j *Journal) Err() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	return j.writeErr
}

// Trim deletes the oldest segments holding only records up to ordinal upTo.
// The segment being written is never deleted.
func (j *Journal) Trim(upTo uint64) (int, error) {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()

	var n int
	for len(j.segments) > 1 && j.segments[1].firstID-1 <= upTo {
		seg := j.segments[0]
		if err := os.Remove(filepath.Join(j.dir, seg.name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		j.segments = j.segments[1:]
		n++
		if j.verbose {
			j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: trimmed segment", slog.String("jrnl", j.debugName), slog.String("file", seg.name))
		}
	}
	return n, nil
}

// Close stops writing. Uncommitted records are discarded.
func (j *Journal) Close() error {
	j.writeLock.Lock()
	defer j.writeLock.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.closeSegment_locked()
}

func (j *Journal) closeSegment_locked() error {
	if j.segWriter == nil {
		return nil
	}
	err := j.segWriter.close()
	j.segWriter = nil
	return err
}
