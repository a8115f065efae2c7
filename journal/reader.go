package journal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cespare/xxhash/v2"

	"github.com/andreyvit/qmdb/mmap"
)

// Records calls fn for every committed record with an ordinal greater than
// after, in order. It stops at the first error returned by fn.
func (j *Journal) Records(after uint64, fn func(rec Record) error) error {
	j.writeLock.Lock()
	segs := slices.Clone(j.segments)
	end := j.committed
	j.writeLock.Unlock()

	next := uint64(0)
	for i, seg := range segs {
		if i+1 < len(segs) && segs[i+1].firstID-1 <= after {
			continue
		}
		if next == 0 && seg.firstID > after+1 {
			return fmt.Errorf("%v: %w: asked for records after %d, segment %q starts at %d", j.debugName, ErrMissingRecords, after, seg.name, seg.firstID)
		}
		if next != 0 && seg.firstID != next {
			return fmt.Errorf("%v: %w: segment %q starts at %d, wanted %d", j.debugName, ErrMissingRecords, seg.name, seg.firstID, next)
		}
		last, err := j.scanSegment(seg, after, fn)
		if err == errCorruptedFile {
			return fmt.Errorf("%v: %w: %s", j.debugName, err, seg.name)
		} else if err != nil {
			return err
		}
		next = last + 1
	}
	if next == 0 && after > end {
		return fmt.Errorf("%v: %w: asked for records after %d, journal is empty", j.debugName, ErrMissingRecords, after)
	}
	if next != 0 && after >= next {
		return fmt.Errorf("%v: %w: asked for records after %d, journal ends at %d", j.debugName, ErrMissingRecords, after, next-1)
	}
	return nil
}

// scanSegment reads a segment, calling fn for committed records after
// ordinal after, and returns the ordinal of its last committed record.
func (j *Journal) scanSegment(seg segment, after uint64, fn func(rec Record) error) (uint64, error) {
	committed := seg.firstID - 1

	f, err := j.openFile(seg.name, false)
	if err != nil {
		return committed, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return committed, err
	}
	size := st.Size()
	if size < segmentHeaderSize {
		return committed, errCorruptedFile
	}
	if size > mmap.MaxSize {
		return committed, fmt.Errorf("segment %q is too large to map (%d bytes)", seg.name, size)
	}
	data, err := mmap.Mmap(f, 0, int(size), mmap.SequentialAccess)
	if err != nil {
		return committed, err
	}
	defer mmap.Munmap(data)

	var h segmentHeader
	if err := j.decodeHeader(data, &h, seg.seq); err != nil {
		return committed, err
	}

	var hash xxhash.Digest
	hash.Reset()
	hash.Write(data[:segmentHeaderSize])

	ts := h.Timestamp
	ord := committed
	var pending []Record
	pos := segmentHeaderSize
	for pos < len(data) {
		if data[pos]&recordFlagCommit != 0 {
			if len(data)-pos < 8 {
				break
			}
			var want [8]byte
			putCommitTrailer(want[:], &hash)
			if !bytes.Equal(want[:], data[pos:pos+8]) {
				break
			}
			hash.Write(data[pos : pos+8])
			pos += 8
			if fn != nil {
				for _, rec := range pending {
					if err := fn(rec); err != nil {
						return committed, err
					}
				}
			}
			pending = pending[:0]
			committed = ord
			continue
		}

		sizeAndFlags, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			break
		}
		tsDelta, m := binary.Uvarint(data[pos+n:])
		if m <= 0 || tsDelta > 0xFFFF_FFFF {
			break
		}
		start := pos + n + m
		recSize := sizeAndFlags >> recordFlagShift
		if recSize > uint64(len(data)-start) {
			break
		}
		end := start + int(recSize)
		hash.Write(data[pos:end])
		ts += uint32(tsDelta)
		ord++
		if ord > after {
			pending = append(pending, Record{Ordinal: ord, Timestamp: ts, Data: data[start:end]})
		}
		pos = end
	}

	if pos < len(data) || ord != committed {
		j.logger.LogAttrs(j.context, slog.LevelWarn, "journal: ignoring uncommitted tail",
			slog.String("jrnl", j.debugName),
			slog.String("file", seg.name),
			slog.Int("offset", pos),
			slog.Int64("size", size),
			slog.Uint64("records", ord-committed))
	}
	return committed, nil
}
