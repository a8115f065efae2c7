package journal

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	magic          = 0x54414c4e52554f4a // "JOURNLAT" as little-endian uint64
	version0 uint8 = 0
)

const segmentHeaderSize = 16 * 8

type segmentHeader struct {
	Magic            uint64
	Version          uint8
	_                uint8
	Flags            uint16
	_                uint32
	SegmentOrdinal   uint32
	Timestamp        uint32
	PrevChecksum     uint64
	JournalInvariant [32]byte
	SegmentInvariant [32]byte
	_                [3]uint64
	Checksum         uint64
}

const (
	segFlagAligned uint16 = 1 << 0
)

const (
	recordFlagCommit byte = 1
	recordFlagShift       = 1
	timestampFmt          = "20060102T150405"
)

const maxRecHeaderLen = binary.MaxVarintLen64 + binary.MaxVarintLen32

// segment is an existing segment file.
type segment struct {
	name    string
	seq     uint32
	ts      uint32
	firstID uint64
}

func (j *Journal) decodeHeader(buf []byte, h *segmentHeader, expectedSeq uint32) error {
	if len(buf) < segmentHeaderSize {
		return errCorruptedFile
	}
	n, err := binary.Decode(buf[:segmentHeaderSize], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != segmentHeaderSize {
		panic("internal size mismatch")
	}

	if h.Magic != magic {
		return errCorruptedFile
	}
	checksum := xxhash.Sum64(buf[:segmentHeaderSize-8])
	if checksum != h.Checksum {
		return errCorruptedFile
	}
	if expectedSeq != h.SegmentOrdinal {
		return errCorruptedFile
	}
	if h.Version > version0 {
		return ErrUnsupportedVersion
	}
	if h.JournalInvariant != j.journalInvariant {
		return ErrIncompatible
	}
	if ((h.Flags & segFlagAligned) != 0) != j.aligned {
		return ErrIncompatible
	}
	return nil
}

type segmentWriter struct {
	f           *os.File
	seg         uint32
	ts          uint32
	size        int64
	hash        xxhash.Digest
	uncommitted bool
}

func startSegment(j *Journal, seg, ts uint32, rec uint64) (*segmentWriter, error) {
	name := formatSegmentName(j.fileNamePrefix, j.fileNameSuffix, seg, ts, rec)

	f, err := j.openFile(name, true)
	if err != nil {
		return nil, err
	}

	var ok bool
	defer closeAndDeleteUnlessOK(f, &ok)

	sw := &segmentWriter{
		f:    f,
		seg:  seg,
		ts:   ts,
		size: segmentHeaderSize,
	}
	sw.hash.Reset()

	var hbuf [segmentHeaderSize]byte
	fillSegmentHeader(hbuf[:], j, seg, ts, &sw.hash)

	_, err = f.Write(hbuf[:])
	if err != nil {
		return nil, err
	}

	if j.verbose {
		j.logger.LogAttrs(j.context, slog.LevelDebug, "journal: started segment", slog.String("jrnl", j.debugName), slog.String("file", name))
	}
	j.segments = append(j.segments, segment{name: name, seq: seg, ts: ts, firstID: rec})

	ok = true
	return sw, nil
}

func (sw *segmentWriter) writeRecord(ts uint32, data []byte) error {
	var tsDelta uint32
	if ts > sw.ts {
		tsDelta = ts - sw.ts
		sw.ts = ts
	}
	sw.uncommitted = true

	var hbuf [maxRecHeaderLen]byte
	h := appendRecordHeader(hbuf[:0], len(data), tsDelta)

	sw.hash.Write(h)
	_, err := sw.f.Write(h)
	if err != nil {
		return err
	}

	sw.hash.Write(data)
	_, err = sw.f.Write(data)
	if err != nil {
		return err
	}

	sw.size += int64(len(h) + len(data))
	return nil
}

func (sw *segmentWriter) commit() error {
	if !sw.uncommitted {
		return nil
	}
	sw.uncommitted = false

	var buf [8]byte
	putCommitTrailer(buf[:], &sw.hash)

	sw.hash.Write(buf[:])
	_, err := sw.f.Write(buf[:])
	if err != nil {
		return err
	}
	sw.size += 8
	return nil
}

func (sw *segmentWriter) close() error {
	if sw.f == nil {
		return nil
	}
	err := sw.f.Close()
	sw.f = nil
	return err
}

func putCommitTrailer(buf []byte, hash *xxhash.Digest) {
	binary.LittleEndian.PutUint64(buf, hash.Sum64())
	buf[0] |= recordFlagCommit
}

func closeAndDeleteUnlessOK(f *os.File, ok *bool) {
	if *ok {
		return
	}
	f.Close()
	os.Remove(f.Name())
}

func fillSegmentHeader(buf []byte, j *Journal, seg, ts uint32, hash *xxhash.Digest) {
	h := segmentHeader{
		Magic:            magic,
		Version:          version0,
		SegmentOrdinal:   seg,
		Timestamp:        ts,
		PrevChecksum:     0,
		JournalInvariant: j.journalInvariant,
		SegmentInvariant: j.segmentInvariant,
	}
	if j.aligned {
		h.Flags |= segFlagAligned
	}

	n, err := binary.Encode(buf[:], binary.LittleEndian, h)
	if err != nil {
		panic(err)
	}
	if n != len(buf) {
		panic("internal size mismatch")
	}

	hash.Write(buf[:segmentHeaderSize-8])
	binary.LittleEndian.PutUint64(buf[segmentHeaderSize-8:], hash.Sum64())
	hash.Write(buf[segmentHeaderSize-8 : segmentHeaderSize])
}

func appendRecordHeader(b []byte, size int, tsDelta uint32) []byte {
	b = binary.AppendUvarint(b, uint64(size)<<recordFlagShift)
	b = binary.AppendUvarint(b, uint64(tsDelta))
	return b
}

func formatSegmentName(prefix, suffix string, seq, ts uint32, id uint64) string {
	t := time.Unix(int64(uint64(ts)), 0).UTC()
	return fmt.Sprintf("%s%012d-%s-%016x%s", prefix, seq, t.Format(timestampFmt), id, suffix)
}

func parseSegmentName(name string) (seq, ts uint32, id uint64, err error) {
	seqStr, rem, ok := strings.Cut(name, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	v, err := strconv.ParseUint(seqStr, 10, 32)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q (invalid segment number)", name)
	}
	seq = uint32(v)

	tsStr, idStr, ok := strings.Cut(rem, "-")
	if !ok {
		return 0, 0, 0, fmt.Errorf("invalid segment file name %q", name)
	}
	t, err := time.ParseInLocation(timestampFmt, tsStr, time.UTC)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid timestamp)", name)
	}
	ts = uint32(t.Unix())

	id, err = strconv.ParseUint(idStr, 16, 64)
	if err != nil {
		return seq, 0, 0, fmt.Errorf("invalid segment file name %q (invalid record identifier)", name)
	}
	return
}
