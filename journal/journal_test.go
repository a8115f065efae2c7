package journal_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/qmdb/journal"
	"github.com/andreyvit/qmdb/journal/journaltest"
)

const magic = "'JOURNLAT"
const header1 = "0/ver 0/pad 0_0/flags 0../pad"
const header2 = "0*32/journal_inv 0*32/seg_inv 0...*3/reserved"

func TestJournal_trivial(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("hello")))
	require.NoError(t, j.WriteRecord(0, []byte("w")))
	j.Advance(1000 * time.Second)
	require.NoError(t, j.WriteRecord(0, []byte("orld")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.Close())

	files := j.FileNames()
	assert.Equal(t, []string{"j000000000001-20240101T000000-0000000000000001.wal"}, files)

	j.Eq(files[0], shdr("1.. 80_00_92_65 0...", "e984dc85563d5731"),
		"#10 #0 'hello",
		"#2 #0 'w",
		"#8 #1000 'orld",
		"7d_33_a6_68_73_e0_8f_ee",
	)
}

func shdr(inside, check string) string {
	return magic + " " + header1 + " " +
		inside + " " + header2 + " " + check
}

func TestJournal_readsCommittedRecordsOnly(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.WriteRecord(0, []byte("c")))
	assert.Equal(t, uint64(2), j.Committed())

	ords, data, err := j.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ords)
	assert.Equal(t, []string{"a", "b"}, data)

	ords, _, err = j.Read(1)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ords)
}

func TestJournal_timestamps(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	j.Advance(5 * time.Second)
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.Commit())

	var stamps []uint32
	require.NoError(t, j.Records(0, func(rec journal.Record) error {
		stamps = append(stamps, rec.Timestamp)
		return nil
	}))
	start := uint32(journaltest.Start.Unix())
	assert.Equal(t, []uint32{start, start + 5}, stamps)
}

func TestJournal_reopenContinuesOrdinals(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.WriteRecord(0, []byte("b")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.WriteRecord(0, []byte("lost")))

	j.Reopen()
	assert.Equal(t, uint64(2), j.Committed())

	require.NoError(t, j.WriteRecord(0, []byte("d")))
	require.NoError(t, j.Commit())

	ords, data, err := j.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ords)
	assert.Equal(t, []string{"a", "b", "d"}, data)
	assert.Equal(t, []string{
		"j000000000001-20240101T000000-0000000000000001.wal",
		"j000000000002-20240101T000000-0000000000000003.wal",
	}, j.FileNames())
}

func TestJournal_ignoresTornTail(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("aaaa")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.Close())

	name := j.FileNames()[0]
	f, err := os.OpenFile(filepath.Join(j.Dir, name), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write(journaltest.Expand("#10 #0 'hel"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	j.Reopen()
	assert.Equal(t, uint64(1), j.Committed())
	_, data, err := j.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa"}, data)
}

func TestJournal_dropsRecordsWithBadCommit(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("aaaa")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.WriteRecord(0, []byte("bbbb")))
	require.NoError(t, j.Commit())
	require.NoError(t, j.Close())

	name := j.FileNames()[0]
	j.Flip(name, 128+2+4+8+2)

	j.Reopen()
	assert.Equal(t, uint64(1), j.Committed())
	require.NoError(t, j.WriteRecord(0, []byte("cccc")))
	require.NoError(t, j.Commit())

	ords, recs, err := j.Read(0)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ords)
	assert.Equal(t, []string{"aaaa", "cccc"}, recs)
}

func TestJournal_rotationAndTrim(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{MaxFileSize: 160})
	for _, s := range []string{"record-01", "record-02", "record-03", "record-04", "record-05", "record-06"} {
		require.NoError(t, j.WriteRecord(0, []byte(s)))
		require.NoError(t, j.Commit())
	}
	require.Len(t, j.FileNames(), 3)

	n, err := j.Trim(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, j.FileNames(), 2)

	ords, _, err := j.Read(2)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4, 5, 6}, ords)

	_, _, err = j.Read(0)
	require.ErrorIs(t, err, journal.ErrMissingRecords)

	ords, _, err = j.Read(6)
	require.NoError(t, err)
	assert.Empty(t, ords)

	_, _, err = j.Read(7)
	require.ErrorIs(t, err, journal.ErrMissingRecords)

	n, err = j.Trim(100)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, j.FileNames(), 1)
}

func TestJournal_emptyJournal(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	ords, _, err := j.Read(0)
	require.NoError(t, err)
	assert.Empty(t, ords)

	_, _, err = j.Read(5)
	require.ErrorIs(t, err, journal.ErrMissingRecords)

	require.NoError(t, j.Commit())
	require.NoError(t, j.Sync())
	assert.Empty(t, j.FileNames())
}

func TestJournal_closed(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{})
	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Sync())
	require.NoError(t, j.Close())
	require.ErrorIs(t, j.WriteRecord(0, []byte("b")), journal.ErrClosed)
}

func TestJournal_baseOrdinal(t *testing.T) {
	j := journaltest.Writable(t, journal.Options{Base: 41})
	assert.Equal(t, uint64(41), j.Committed())

	ords, _, err := j.Read(41)
	require.NoError(t, err)
	assert.Empty(t, ords)
	_, _, err = j.Read(42)
	require.ErrorIs(t, err, journal.ErrMissingRecords)

	require.NoError(t, j.WriteRecord(0, []byte("a")))
	require.NoError(t, j.Commit())
	ords, data, err := j.Read(41)
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, ords)
	assert.Equal(t, []string{"a"}, data)
}
