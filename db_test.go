package qmdb

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/andreyvit/qmdb/hkey"
	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

func init() {
	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func TestDB(t *testing.T) {
	db := setup(t)
	must(db.Put([]byte("user1"), []byte("100"), 1))
	must(db.Put([]byte("user2"), []byte("200"), 1))

	v, found := getValue(t, db, "user1")
	if !found || v != "100" {
		t.Fatalf("Get(user1) = %q, %v, wanted 100", v, found)
	}

	ensure(db.Delete([]byte("user2")))
	if v, found := getValue(t, db, "user2"); found {
		t.Fatalf("Get(user2) = %q after delete, wanted not found", v)
	}

	p := must(db.Prove([]byte("user1")))
	isnonnil(t, p)
	deepEqual(t, string(p.Entry.Value), "100")
	root := must(db.Root())
	if !Verify(p, root) {
		t.Fatalf("proof of user1 does not verify against the current root")
	}
	deepEqual(t, p.Root, root)

	deepEqual(t, db.WriteCount.Load(), uint64(2))
	deepEqual(t, db.DeleteCount.Load(), uint64(1))
}

func TestDB_fullTwigProofChangesOnlyAbove(t *testing.T) {
	db := setup(t)
	must(db.Put([]byte("user1"), []byte("100"), 1))
	id := must(db.Prove([]byte("user1"))).Entry.ID
	twigID := db.TwigOf(id)

	for i := 0; ; i++ {
		if st, _ := db.TwigState(twigID); st == twig.Full {
			break
		}
		if i > 1000 {
			t.Fatalf("twig %d never filled up", twigID)
		}
		must(db.Put([]byte(fmt.Sprintf("fill%d", i)), []byte("x"), 1))
	}

	p1 := must(db.Prove([]byte("user1")))
	for i := 0; i < 20; i++ {
		must(db.Put([]byte(fmt.Sprintf("more%d", i)), []byte("y"), 1))
	}
	p2 := must(db.Prove([]byte("user1")))
	root := must(db.Root())

	deepEqual(t, p2.Entry.ID, id)
	deepEqual(t, p2.EntryPath, p1.EntryPath)
	deepEqual(t, p2.ActiveChunk, p1.ActiveChunk)
	deepEqual(t, p2.ActivePath, p1.ActivePath)
	if reflect.DeepEqual(p2.UpperPath, p1.UpperPath) {
		t.Errorf("** upper path did not change after new twigs were added")
	}
	if Verify(p1, root) {
		t.Errorf("** stale proof verifies against the new root")
	}
	if !Verify(p2, root) {
		t.Errorf("** fresh proof does not verify")
	}
}

func TestDB_overwrite(t *testing.T) {
	db := setup(t)
	key := []byte("acct")
	must(db.Put(key, []byte("v1"), 1))
	old := must(db.Prove(key)).Entry
	must(db.Put(key, []byte("v2"), 2))

	v, _ := getValue(t, db, "acct")
	deepEqual(t, v, "v2")

	cur := must(db.Prove(key)).Entry
	deepEqual(t, cur.OldID, old.ID)
	deepEqual(t, cur.Seq, uint64(2))
	deepEqual(t, old.OldID, NoID)

	root := must(db.Root())
	p := must(db.ProveEntry(old.ID))
	if Verify(p, root) {
		t.Errorf("** superseded entry verifies as active")
	}
	if !VerifyInclusion(p, root) {
		t.Errorf("** superseded entry is not proven included")
	}

	e := must(db.Entry(old.ID))
	deepEqual(t, string(e.Value), "v1")
}

func TestDB_staleSequence(t *testing.T) {
	db := setup(t)
	key := []byte("acct")
	must(db.Put(key, []byte("v5"), 5))

	_, err := db.Put(key, []byte("v4"), 4)
	if !errors.Is(err, ErrStaleSequence) {
		t.Fatalf("Put with lower seq = %v, wanted ErrStaleSequence", err)
	}
	var ke *KeyError
	if !errors.As(err, &ke) || ke.Op != "put" || string(ke.Key) != "acct" {
		t.Fatalf("Put error = %#v, wanted KeyError for put acct", err)
	}
	v, _ := getValue(t, db, "acct")
	deepEqual(t, v, "v5")

	must(db.Put(key, []byte("v5b"), 5))
	v, _ = getValue(t, db, "acct")
	deepEqual(t, v, "v5b")

	// deleted keys keep no sequence
	ensure(db.Delete(key))
	must(db.Put(key, []byte("v0"), 0))
	v, _ = getValue(t, db, "acct")
	deepEqual(t, v, "v0")
}

func TestDB_deleteMissingIsNoop(t *testing.T) {
	db := setup(t)
	root := must(db.Root())
	ensure(db.Delete([]byte("nope")))
	deepEqual(t, must(db.Root()), root)
}

func TestDB_proveMissing(t *testing.T) {
	db := setup(t)
	must(db.Put([]byte("a"), []byte("1"), 1))
	p := must(db.Prove([]byte("b")))
	isnil(t, p)
	if Verify(p, must(db.Root())) || VerifyInclusion(p, must(db.Root())) {
		t.Fatalf("nil proof verifies")
	}
}

func TestDB_nextKey(t *testing.T) {
	db := setupWith(t, Options{Storage: Memory, Shards: 1, TwigCapacity: 8, TwigGroups: 1})
	lo, hi := []byte("a"), []byte("b")
	if hkey.Split(lo).Truncated() > hkey.Split(hi).Truncated() {
		lo, hi = hi, lo
	}

	must(db.Put(hi, []byte("hi"), 1))
	must(db.Put(lo, []byte("lo"), 1))

	ehi := must(db.Prove(hi)).Entry
	elo := must(db.Prove(lo)).Entry
	deepEqual(t, ehi.OldNextKeyID, NoID)
	deepEqual(t, elo.NextKey, hkey.Split(hi))
	deepEqual(t, elo.OldNextKeyID, ehi.ID)
}

func TestDB_closed(t *testing.T) {
	db := must(Open("", Options{Storage: Memory, Shards: 16, TwigCapacity: 8}))
	ensure(db.Close())
	ensure(db.Close())

	if _, _, err := db.Get([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Errorf("** Get after Close = %v, wanted ErrClosed", err)
	}
	if _, err := db.Put([]byte("a"), nil, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("** Put after Close = %v, wanted ErrClosed", err)
	}
	if _, err := db.Root(); !errors.Is(err, ErrClosed) {
		t.Errorf("** Root after Close = %v, wanted ErrClosed", err)
	}
	if err := db.Flush(); !errors.Is(err, ErrClosed) {
		t.Errorf("** Flush after Close = %v, wanted ErrClosed", err)
	}
}

func TestDB_concurrentWriters(t *testing.T) {
	db := setup(t)
	const writers, perWriter = 8, 50
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				k := fmt.Sprintf("w%d-%d", w, i)
				if _, err := db.Put([]byte(k), []byte(k), 1); err != nil {
					t.Errorf("** Put(%s): %v", k, err)
					return
				}
			}
		}()
	}
	wg.Wait()

	for w := 0; w < writers; w++ {
		for i := 0; i < perWriter; i++ {
			k := fmt.Sprintf("w%d-%d", w, i)
			if v, found := getValue(t, db, k); !found || v != k {
				t.Fatalf("Get(%s) = %q, %v", k, v, found)
			}
		}
	}
	st := must(db.Stats())
	deepEqual(t, st.Index.Keys, writers*perWriter)
	deepEqual(t, st.Twigs.Entries, writers*perWriter)
}

func TestDB_truncationCollision(t *testing.T) {
	db := setupWith(t, Options{Storage: Memory, Shards: 16, TwigCapacity: 8, TwigGroups: 1})
	must(db.Put([]byte("a"), []byte("alpha"), 1))
	idA := must(db.Prove([]byte("a"))).Entry.ID

	// A slot under b's truncated key that leads to a's entry is what a
	// truncation collision looks like to b.
	kb := hkey.Split([]byte("b"))
	ensure(db.ix.Write(db.ix.Route(kb), func(u *indexer.Unit) error {
		_, err := u.Insert(kb, idA)
		return err
	}))

	v, found, err := db.Get([]byte("b"))
	if !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("** Get(b) = %q, %v, %v, wanted ErrKeyMismatch", v, found, err)
	}
	if v != nil || found {
		t.Fatalf("** Get(b) returned %q, %v alongside the mismatch", v, found)
	}
	if _, err := db.Prove([]byte("b")); !errors.Is(err, ErrKeyMismatch) {
		t.Fatalf("** Prove(b) = %v, wanted ErrKeyMismatch", err)
	}

	must(db.Put([]byte("b"), []byte("beta"), 1))
	deepEqual(t, must(db.Stats()).Index.Keys, 3)
	if v, found := getValue(t, db, "b"); !found || v != "beta" {
		t.Fatalf("** Get(b) = %q, %v, wanted beta", v, found)
	}
	if v, found := getValue(t, db, "a"); !found || v != "alpha" {
		t.Fatalf("** Get(a) = %q, %v, wanted alpha", v, found)
	}

	must(db.Put([]byte("b"), []byte("gamma"), 2))
	if v, _ := getValue(t, db, "b"); v != "gamma" {
		t.Fatalf("** Get(b) after overwrite = %q, wanted gamma", v)
	}
	if v, _ := getValue(t, db, "a"); v != "alpha" {
		t.Fatalf("** Get(a) after overwriting b = %q, wanted alpha", v)
	}
}

func TestDB_readsDoNotWaitForOtherReads(t *testing.T) {
	db := setup(t)
	must(db.Put([]byte("x"), []byte("1"), 1))
	group := db.groupOf(db.ix.Route(hkey.Split([]byte("x"))))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = db.twigs.View(group, func(g *twig.Group) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	done := make(chan error, 1)
	go func() {
		v, found, err := db.Get([]byte("x"))
		if err == nil && (!found || string(v) != "1") {
			err = fmt.Errorf("Get(x) = %q, %v", v, found)
		}
		if err == nil {
			_, err = db.Prove([]byte("x"))
		}
		done <- err
	}()
	select {
	case err := <-done:
		ensure(err)
	case <-time.After(5 * time.Second):
		t.Fatalf("Get blocked behind a read of the same twig group")
	}
}

func TestDB_prune(t *testing.T) {
	db := setupWith(t, Options{Storage: Memory, Shards: 4, TwigCapacity: 8, TwigGroups: 1})
	var keys [][]byte
	for i := 0; i < 8; i++ {
		keys = append(keys, []byte(fmt.Sprintf("k%d", i)))
		must(db.Put(keys[i], []byte("v"), 1))
	}
	if st, _ := db.TwigState(0); st != twig.Full {
		t.Fatalf("twig 0 = %v, wanted full", st)
	}
	if err := db.Prune(0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("Prune(full) = %v, wanted ErrInvalidTransition", err)
	}

	for _, k := range keys {
		ensure(db.Delete(k))
	}
	if st, _ := db.TwigState(0); st != twig.Inactive {
		t.Fatalf("twig 0 = %v, wanted inactive", st)
	}

	root := must(db.Root())
	ensure(db.Prune(0))
	if st, _ := db.TwigState(0); st != twig.Pruned {
		t.Fatalf("twig 0 = %v, wanted pruned", st)
	}
	deepEqual(t, must(db.Root()), root)

	if _, err := db.ProveEntry(3); !errors.Is(err, ErrPrunedData) {
		t.Fatalf("ProveEntry(3) = %v, wanted ErrPrunedData", err)
	}
	if _, err := db.Entry(3); !errors.Is(err, ErrPrunedData) {
		t.Fatalf("Entry(3) = %v, wanted ErrPrunedData", err)
	}
	deepEqual(t, must(db.PruneInactive()), 0)
}

func TestDB_pruneInactiveAfterOverwrite(t *testing.T) {
	db := setupWith(t, Options{Storage: Memory, Shards: 4, TwigCapacity: 8, TwigGroups: 1})
	for round := 1; round <= 2; round++ {
		for i := 0; i < 8; i++ {
			must(db.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprint(round)), uint64(round)))
		}
	}
	deepEqual(t, must(db.PruneInactive()), 1)
	if st, _ := db.TwigState(1); st != twig.Full {
		t.Fatalf("twig 1 = %v, wanted full", st)
	}
	for i := 0; i < 8; i++ {
		v, _ := getValue(t, db, fmt.Sprintf("k%d", i))
		deepEqual(t, v, "2")
	}
	deepEqual(t, must(db.Stats()).Twigs.Pruned, 1)
}

func TestDB_reopen(t *testing.T) {
	for _, kind := range []StorageKind{Bolt, LevelDB} {
		t.Run(kind.String(), func(t *testing.T) {
			dir := t.TempDir()
			opt := Options{Storage: kind, Shards: 16, TwigCapacity: 8, TwigGroups: 2, IsTesting: true}

			db := must(Open(dir, opt))
			for i := 0; i < 50; i++ {
				must(db.Put([]byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)), 1))
			}
			for i := 0; i < 50; i += 5 {
				ensure(db.Delete([]byte(fmt.Sprintf("k%d", i))))
			}
			ensure(db.Flush())
			must(db.Put([]byte("k1"), []byte("v1b"), 2))
			root := must(db.Root())
			ensure(db.Close())

			db = must(Open(dir, opt))
			defer db.Close()
			deepEqual(t, must(db.Root()), root)
			for i := 0; i < 50; i++ {
				k := fmt.Sprintf("k%d", i)
				v, found := getValue(t, db, k)
				switch {
				case i%5 == 0:
					if found {
						t.Errorf("** Get(%s) = %q, wanted deleted", k, v)
					}
				case i == 1:
					deepEqual(t, v, "v1b")
				default:
					deepEqual(t, v, fmt.Sprintf("v%d", i))
				}
			}
			if !Verify(must(db.Prove([]byte("k2"))), root) {
				t.Errorf("** proof after reopen does not verify")
			}
		})
	}
}

func TestDB_journalReplay(t *testing.T) {
	dir := t.TempDir()
	opt := Options{Storage: Bolt, Shards: 16, TwigCapacity: 8, TwigGroups: 2, IsTesting: true}

	db := must(Open(dir, opt))
	for i := 0; i < 20; i++ {
		must(db.Put([]byte(fmt.Sprintf("k%d", i)), []byte("before"), 1))
	}
	ensure(db.Flush())
	for i := 10; i < 30; i++ {
		must(db.Put([]byte(fmt.Sprintf("k%d", i)), []byte("after"), 2))
	}
	ensure(db.Delete([]byte("k0")))
	root := must(db.Root())
	crash(db)

	db = must(Open(dir, opt))
	defer db.Close()
	deepEqual(t, must(db.Root()), root)
	for i := 0; i < 30; i++ {
		k := fmt.Sprintf("k%d", i)
		v, found := getValue(t, db, k)
		switch {
		case i == 0:
			if found {
				t.Errorf("** Get(k0) = %q, wanted deleted", v)
			}
		case i < 10:
			deepEqual(t, v, "before")
		default:
			deepEqual(t, v, "after")
		}
	}
}

func TestDB_failedJournalWriteLeavesNoTrace(t *testing.T) {
	db := setupWith(t, Options{Storage: Bolt, Shards: 16, TwigCapacity: 8, TwigGroups: 1})
	must(db.Put([]byte("a"), []byte("1"), 1))
	must(db.Put([]byte("b"), []byte("1"), 1))
	root := must(db.Root())
	stats := must(db.Stats())

	ensure(db.journals[0].Close())

	if _, err := db.Put([]byte("a"), []byte("2"), 2); err == nil {
		t.Fatalf("Put with a closed journal succeeded")
	}
	if _, err := db.Put([]byte("c"), []byte("2"), 2); err == nil {
		t.Fatalf("Put of a new key with a closed journal succeeded")
	}
	if err := db.Delete([]byte("b")); err == nil {
		t.Fatalf("Delete with a closed journal succeeded")
	}

	if v, found := getValue(t, db, "a"); !found || v != "1" {
		t.Fatalf("** Get(a) = %q, %v, wanted the old value", v, found)
	}
	if v, found := getValue(t, db, "b"); !found || v != "1" {
		t.Fatalf("** Get(b) = %q, %v, wanted it kept", v, found)
	}
	if v, found := getValue(t, db, "c"); found {
		t.Fatalf("** Get(c) = %q, wanted not found", v)
	}
	deepEqual(t, must(db.Root()), root)
	after := must(db.Stats())
	deepEqual(t, after.Index, stats.Index)
	deepEqual(t, after.Twigs, stats.Twigs)

	p := must(db.Prove([]byte("a")))
	isnonnil(t, p)
	if !Verify(p, root) {
		t.Fatalf("** proof of a does not verify against the unchanged root")
	}
}

func TestDB_noJournalDiscardsJournal(t *testing.T) {
	dir := t.TempDir()
	opt := Options{Storage: Bolt, Shards: 16, TwigCapacity: 8, TwigGroups: 2, IsTesting: true}

	db := must(Open(dir, opt))
	must(db.Put([]byte("a"), []byte("1"), 1))
	ensure(db.Flush())
	must(db.Put([]byte("b"), []byte("2"), 1))
	crash(db)

	opt.NoJournal = true
	db = must(Open(dir, opt))
	if _, err := os.Stat(filepath.Join(dir, walDirName)); !os.IsNotExist(err) {
		t.Errorf("** journal dir still exists: %v", err)
	}
	if v, found := getValue(t, db, "a"); !found || v != "1" {
		t.Errorf("** Get(a) = %q, %v, wanted 1", v, found)
	}
	if _, found := getValue(t, db, "b"); found {
		t.Errorf("** unflushed b survived without a journal")
	}
	must(db.Put([]byte("c"), []byte("3"), 1))
	ensure(db.Close())

	opt.NoJournal = false
	db = must(Open(dir, opt))
	defer db.Close()
	if v, found := getValue(t, db, "c"); !found || v != "3" {
		t.Errorf("** Get(c) = %q, %v, wanted 3", v, found)
	}
	must(db.Put([]byte("d"), []byte("4"), 1))
	if v, _ := getValue(t, db, "d"); v != "4" {
		t.Errorf("** Get(d) = %q, wanted 4", v)
	}
}

func TestDB_incompatible(t *testing.T) {
	dir := t.TempDir()
	db := must(Open(dir, Options{Shards: 16, TwigCapacity: 8, IsTesting: true}))
	ensure(db.Close())

	_, err := Open(dir, Options{Shards: 32, TwigCapacity: 8, IsTesting: true})
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("Open with other shard count = %v, wanted ErrIncompatible", err)
	}
	_, err = Open(dir, Options{Shards: 16, TwigCapacity: 16, IsTesting: true})
	if !errors.Is(err, ErrIncompatible) {
		t.Fatalf("Open with other twig capacity = %v, wanted ErrIncompatible", err)
	}
}

func TestDB_quarantinesCorruptUnit(t *testing.T) {
	dir := t.TempDir()
	opt := Options{Shards: 16, TwigCapacity: 8, TwigGroups: 2, IsTesting: true}
	db := must(Open(dir, opt))
	var keys []string
	for i := 0; i < 40; i++ {
		keys = append(keys, fmt.Sprintf("k%d", i))
		must(db.Put([]byte(keys[i]), []byte("v"), 1))
	}
	ensure(db.Flush())
	bad := db.ix.Route(hkey.Split([]byte(keys[0])))
	ensure(db.update(func(tx storageTx) error {
		return bucket(tx, unitsBucket).Put(shardKey(bad), []byte{0xC1})
	}))
	crash(db)

	db = must(Open(dir, opt))
	defer db.Close()
	deepEqual(t, must(db.Stats()).Index.Corrupt, 1)
	for _, k := range keys {
		_, _, err := db.Get([]byte(k))
		if db.ix.Route(hkey.Split([]byte(k))) == bad {
			if !errors.Is(err, ErrCorruptLayout) {
				t.Errorf("** Get(%s) on quarantined shard = %v, wanted ErrCorruptLayout", k, err)
			}
		} else if err != nil {
			t.Errorf("** Get(%s) = %v", k, err)
		}
	}
}

func TestDB_statsAndDump(t *testing.T) {
	db := setup(t)
	must(db.Put([]byte("user1"), []byte("100"), 1))
	must(db.Put([]byte{0x00, 0xFF}, []byte("bin"), 1))
	getValue(t, db, "user1")
	must(db.Prove([]byte("user1")))

	st := must(db.Stats())
	deepEqual(t, st.Index.Keys, 2)
	deepEqual(t, st.Writes, uint64(2))
	deepEqual(t, st.Reads, uint64(1))
	deepEqual(t, st.Proofs, uint64(1))

	out := must(db.Dump(DumpAll))
	for _, want := range []string{"index: keys = 2", "root = ", "twig.", "== shard.", `"user1" = "100"`, "0x00ff"} {
		if !strings.Contains(out, want) {
			t.Errorf("** dump does not contain %q:\n%s", want, out)
		}
	}

	out = must(db.Dump(DumpStats))
	if strings.Contains(out, "shard.") {
		t.Errorf("** stats-only dump contains shards:\n%s", out)
	}
}

func TestParseDumpFlags(t *testing.T) {
	deepEqual(t, must(ParseDumpFlags("stats, leaves")), DumpStats|DumpShards|DumpLeaves)
	deepEqual(t, must(ParseDumpFlags("")), DumpFlags(0))
	deepEqual(t, must(ParseDumpFlags("all")), DumpAll)
	if _, err := ParseDumpFlags("stats,bogus"); err == nil {
		t.Fatalf("ParseDumpFlags(bogus) succeeded")
	}
}

func TestParseStorageKind(t *testing.T) {
	for _, k := range []StorageKind{Bolt, LevelDB, Memory} {
		deepEqual(t, must(ParseStorageKind(k.String())), k)
	}
	deepEqual(t, must(ParseStorageKind("")), Bolt)
	if _, err := ParseStorageKind("sqlite"); err == nil {
		t.Fatalf("ParseStorageKind(sqlite) succeeded")
	}
}

func TestOpen_rejectsBadOptions(t *testing.T) {
	if _, err := Open("", Options{Storage: Memory, TwigCapacity: 10}); err == nil {
		t.Errorf("** Open with twig capacity 10 succeeded")
	}
	if _, err := Open("", Options{Storage: StorageKind(42)}); err == nil {
		t.Errorf("** Open with unknown storage succeeded")
	}
}

// crash closes db without a final checkpoint.
func crash(db *DB) {
	db.life.Lock()
	defer db.life.Unlock()
	db.closed = true
	ensure(db.closeJournals())
	ensure(db.store.Close())
}

func setup(t testing.TB) *DB {
	return setupWith(t, Options{Storage: Memory, Shards: 16, TwigCapacity: 8, TwigGroups: 2})
}

func setupWith(t testing.TB, opt Options) *DB {
	t.Helper()
	opt.IsTesting = true
	db := must(Open(t.TempDir(), opt))
	t.Cleanup(func() { db.Close() })
	return db
}

func getValue(t testing.TB, db *DB, key string) (string, bool) {
	t.Helper()
	v, found, err := db.Get([]byte(key))
	if err != nil {
		t.Fatalf("Get(%s): %v", key, err)
	}
	return string(v), found
}

func deepEqual[T any](t testing.TB, a, e T) {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
	}
}

func isempty[T any, S ~[]T](t testing.TB, a S) {
	if len(a) > 0 {
		t.Helper()
		t.Errorf("** got %v, wanted empty slice", a)
	}
}

func isnil[T any, P ~*T](t testing.TB, a P) {
	if a != nil {
		t.Helper()
		t.Errorf("** got &%v, wanted nil", *a)
	}
}

func isnonnil[T any](t testing.TB, a *T) {
	if a == nil {
		t.Helper()
		t.Errorf("** got nil %T, wanted non-nil", a)
	}
}

func x(data string) []byte {
	data = strings.ReplaceAll(data, " ", "")
	return must(hex.DecodeString(data))
}
