package qmdb

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

type DumpFlags uint64

const (
	DumpStats = DumpFlags(1 << iota)
	DumpTwigs
	DumpShards
	DumpLeaves
	DumpEntries

	DumpAll = DumpFlags(0xFFFFFFFFFFFFFFFF)
)

var (
	dumpSep1 = strings.Repeat("=", 80)
	dumpSep2 = strings.Repeat("-", 60)
)

func (f DumpFlags) Contains(v DumpFlags) bool {
	return (f & v) == v
}

// ParseDumpFlags parses a comma-separated list of stats, twigs, shards,
// leaves, entries and all.
func ParseDumpFlags(s string) (DumpFlags, error) {
	var f DumpFlags
	for _, item := range strings.Split(s, ",") {
		switch strings.TrimSpace(item) {
		case "":
		case "stats":
			f |= DumpStats
		case "twigs":
			f |= DumpTwigs
		case "shards":
			f |= DumpShards
		case "leaves":
			f |= DumpShards | DumpLeaves
		case "entries":
			f |= DumpShards | DumpLeaves | DumpEntries
		case "all":
			f |= DumpAll
		default:
			return 0, fmt.Errorf("unknown dump section %q", item)
		}
	}
	return f, nil
}

// Dump describes the database in human-readable form. Shards are dumped one
// at a time, so the output is not a consistent snapshot under concurrent
// writes.
func (db *DB) Dump(f DumpFlags) (string, error) {
	var buf strings.Builder
	if f.Contains(DumpStats) {
		st, err := db.Stats()
		if err != nil {
			return "", err
		}
		dumpStats(&buf, &st)
	}

	if err := db.enter(); err != nil {
		return "", err
	}
	defer db.leave()

	if f.Contains(DumpTwigs) {
		fmt.Fprintln(&buf, dumpSep1)
		fmt.Fprintf(&buf, "root = %v\n", db.twigs.Root())
		for _, ti := range db.twigs.Twigs() {
			fmt.Fprintf(&buf, "twig.%d = %v %d/%d active, root %v\n", ti.ID, ti.State, ti.Active, ti.Count, ti.Root)
		}
	}

	if f.Contains(DumpShards) {
		for shard := 0; shard < db.ix.Shards(); shard++ {
			err := db.ix.Read(shard, func(u *indexer.Unit) error {
				if u.Len() == 0 {
					return nil
				}
				return db.dumpShard(&buf, f, u)
			})
			if err != nil {
				fmt.Fprintln(&buf, dumpSep1)
				fmt.Fprintf(&buf, "shard.%d ** ERROR: %v\n", shard, err)
			}
		}
	}
	return buf.String(), nil
}

func dumpStats(w *strings.Builder, st *Stats) {
	fmt.Fprintln(w, dumpSep1)
	fmt.Fprintf(w, "index: keys = %d, leaves = %d, buffers = %d, used_bytes = %d, compactions = %d, corrupt_shards = %d\n",
		st.Index.Keys, st.Index.Leaves, st.Index.Buffers, st.Index.UsedBytes, st.Index.Compactions, st.Index.Corrupt)
	fmt.Fprintf(w, "twigs: fresh = %d, full = %d, inactive = %d, pruned = %d, entries = %d, active = %d\n",
		st.Twigs.Fresh, st.Twigs.Full, st.Twigs.Inactive, st.Twigs.Pruned, st.Twigs.Entries, st.Twigs.Active)
	fmt.Fprintf(w, "ops: reads = %d, writes = %d, deletes = %d, proofs = %d, flushes = %d\n",
		st.Reads, st.Writes, st.Deletes, st.Proofs, st.Flushes)
	if len(st.JournalCommitted) > 0 {
		fmt.Fprintf(w, "journal: committed = %v\n", st.JournalCommitted)
	}
	fmt.Fprintf(w, "storage: size = %d, total_alloc = %d\n", st.StorageSize, st.TotalAlloc())
	for _, name := range allBuckets {
		bs := st.Buckets[name]
		fmt.Fprintf(w, "storage.%s: keys = %d, size = %d, alloc = %d\n", name, bs.Keys, bs.Size, bs.Alloc)
	}
}

func (db *DB) dumpShard(w *strings.Builder, f DumpFlags, u *indexer.Unit) error {
	fmt.Fprintln(w, rpadf('=', "== shard.%d (%d keys, %d leaves, %d buffers) ", u.Shard(), u.Len(), u.Leaves(), u.Buffers().Len()))
	if !f.Contains(DumpLeaves) {
		return nil
	}
	ranges, err := u.Ranges()
	if err != nil {
		return err
	}
	prefix := "shard." + strconv.Itoa(u.Shard())
	for i, lr := range ranges {
		end := "∞"
		if lr.End != 0 {
			end = fmt.Sprintf("%012x", lr.End)
		}
		fmt.Fprintln(w, dumpSep2)
		fmt.Fprintf(w, "%s.leaf.%d = [%012x, %s) at %v, %d/%d\n", prefix, i, lr.Start, end, lr.Pos, len(lr.Slots), lr.Capacity)
		if !f.Contains(DumpEntries) {
			continue
		}
		err := db.twigs.View(db.groupOf(u.Shard()), func(g *twig.Group) error {
			for _, s := range lr.Slots {
				e, err := g.Entry(s.Value)
				if err != nil {
					fmt.Fprintf(w, "%s  %012x => #%d ** ERROR: %v\n", prefix, s.Key, s.Value, err)
					continue
				}
				fmt.Fprintf(w, "%s  %012x => #%d %s = %s (seq %d)\n", prefix, s.Key, s.Value, loggableBytes(e.Key), loggableBytes(e.Value), e.Seq)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// loggableBytes quotes printable byte strings and hex-encodes the rest.
func loggableBytes(b []byte) string {
	if utf8.Valid(b) && !strings.ContainsFunc(string(b), func(r rune) bool { return r < 0x20 || r == 0x7f }) {
		return strconv.Quote(string(b))
	}
	return "0x" + hexstr(b)
}

func rpadf(pad rune, format string, args ...any) string {
	s := fmt.Sprintf(format, args...)
	return rpad(s, 80, pad)
}
