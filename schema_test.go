package qmdb

import (
	"bytes"
	"testing"
)

type orderKey struct {
	Customer string
	Number   uint32
}

type order struct {
	Item  string
	Qty   int
	Notes []string `msgpack:",omitempty"`
}

func TestTable(t *testing.T) {
	db := setup(t)
	orders := NewTable(db, "orders", NewSchema[orderKey, order](MsgPack))
	deepEqual(t, orders.Name(), "orders")

	k := orderKey{"alice", 7}
	must(orders.Put(k, order{Item: "tea", Qty: 2}, 1))

	o, found := must2(orders.Get(k))
	if !found {
		t.Fatalf("Get(%v) not found", k)
	}
	deepEqual(t, o, order{Item: "tea", Qty: 2})

	if _, found := must2(orders.Get(orderKey{"alice", 8})); found {
		t.Fatalf("Get of a missing order found something")
	}

	p := must(orders.Prove(k))
	isnonnil(t, p)
	if !Verify(p, must(db.Root())) {
		t.Fatalf("table proof does not verify")
	}
	if !bytes.HasPrefix(p.Entry.Key, []byte("orders\x00")) {
		t.Fatalf("entry key %q lacks the table prefix", p.Entry.Key)
	}

	ensure(orders.Delete(k))
	if _, found := must2(orders.Get(k)); found {
		t.Fatalf("Get after Delete found the order")
	}
}

func TestTable_keys(t *testing.T) {
	db := setup(t)
	s := NewSchema[orderKey, order](JSON)
	orders := NewTable(db, "orders", s)
	users := NewTable(db, "users", Schema[[]byte, []byte](RawSchema{}))

	k := orderKey{"bob", 3}
	key := orders.Key(k)
	deepEqual(t, orders.RawKey(s.AppendKey(nil, k)), key)

	got, ok, err := orders.ParseKey(key)
	if err != nil || !ok {
		t.Fatalf("ParseKey = %v, %v, %v", got, ok, err)
	}
	deepEqual(t, got, k)

	if _, ok, _ := orders.ParseKey(users.Key([]byte("bob"))); ok {
		t.Fatalf("orders.ParseKey accepted a users key")
	}

	raw := must(s.ParseKey("bob", "3"))
	deepEqual(t, orders.RawKey(raw), key)
}

func TestTable_rawSchema(t *testing.T) {
	db := setup(t)
	blobs := NewTable(db, "blobs", Schema[[]byte, []byte](RawSchema{}))
	must(blobs.Put([]byte{1, 2}, []byte{3, 4}, 1))
	v, found := must2(blobs.Get([]byte{1, 2}))
	if !found {
		t.Fatalf("Get not found")
	}
	deepEqual(t, v, []byte{3, 4})

	// raw keys are readable through the untyped API
	got, found := getValue(t, db, "blobs\x00\x01\x02")
	if !found || got != "\x03\x04" {
		t.Fatalf("Get(raw) = %q, %v", got, found)
	}
}

func TestTable_decodeFailure(t *testing.T) {
	db := setup(t)
	orders := NewTable(db, "orders", NewSchema[orderKey, order](JSON))
	k := orderKey{"carol", 1}
	must(db.Put(orders.Key(k), []byte("{oops"), 1))
	if _, _, err := orders.Get(k); err == nil {
		t.Fatalf("Get of a malformed value succeeded")
	}
}

func TestNewTable_rejectsBadNames(t *testing.T) {
	for _, name := range []string{"", "a\x00b"} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("** NewTable(%q) did not panic", name)
				}
			}()
			NewTable(nil, name, Schema[[]byte, []byte](RawSchema{}))
		}()
	}
}

func must2[A, B any](a A, b B, err error) (A, B) {
	if err != nil {
		panic(err)
	}
	return a, b
}
