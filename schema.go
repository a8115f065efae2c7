package qmdb

import (
	"bytes"
	"fmt"
	"reflect"
)

// Schema converts typed keys and values of a table to and from bytes.
type Schema[K, V any] interface {
	AppendKey(buf []byte, k K) []byte
	DecodeKey(raw []byte) (K, error)
	AppendValue(buf []byte, v V) []byte
	DecodeValue(raw []byte) (V, error)
}

// NewSchema returns a schema encoding keys as tuples of their fields and
// values with enc (MsgPack or JSON).
//
// Key types may be strings, integers, byte slices and arrays, time.Time,
// types implementing FlatMarshaler or encoding.BinaryMarshaler, and structs
// or pointers made of those.
func NewSchema[K, V any](enc encodingMethod) *ReflectSchema[K, V] {
	return &ReflectSchema[K, V]{
		keys:   keyEncodingOf(reflect.TypeFor[K]()),
		values: enc,
	}
}

type ReflectSchema[K, V any] struct {
	keys   *keyEncoding
	values encodingMethod
}

var _ Schema[string, any] = (*ReflectSchema[string, any])(nil)

func (s *ReflectSchema[K, V]) AppendKey(buf []byte, k K) []byte {
	return s.keys.encode(buf, reflect.ValueOf(&k).Elem())
}

func (s *ReflectSchema[K, V]) DecodeKey(raw []byte) (K, error) {
	var k K
	err := s.keys.decode(raw, reflect.ValueOf(&k))
	return k, err
}

func (s *ReflectSchema[K, V]) AppendValue(buf []byte, v V) []byte {
	return s.values.EncodeValue(buf, reflect.ValueOf(&v).Elem())
}

func (s *ReflectSchema[K, V]) DecodeValue(raw []byte) (V, error) {
	var v V
	err := s.values.DecodeValue(raw, reflect.ValueOf(&v))
	return v, err
}

// ParseKey encodes a key given as one string per key component: decimal
// integers, RFC 3339 times, hex bytes.
func (s *ReflectSchema[K, V]) ParseKey(strs ...string) ([]byte, error) {
	return s.keys.parse(nil, strs)
}

// FormatKey is the inverse of ParseKey.
func (s *ReflectSchema[K, V]) FormatKey(raw []byte) ([]string, error) {
	return s.keys.format(raw)
}

// RawSchema stores keys and values as is.
type RawSchema struct{}

var _ Schema[[]byte, []byte] = RawSchema{}

func (RawSchema) AppendKey(buf []byte, k []byte) []byte   { return append(buf, k...) }
func (RawSchema) DecodeKey(raw []byte) ([]byte, error)    { return bytes.Clone(raw), nil }
func (RawSchema) AppendValue(buf []byte, v []byte) []byte { return append(buf, v...) }
func (RawSchema) DecodeValue(raw []byte) ([]byte, error)  { return bytes.Clone(raw), nil }

// Table is a typed view of the keys that start with its name. Tables share
// the database's shards, twigs and root.
type Table[K, V any] struct {
	db     *DB
	name   string
	prefix []byte
	schema Schema[K, V]
}

// NewTable returns the table called name. Table names must not contain
// zero bytes.
func NewTable[K, V any](db *DB, name string, schema Schema[K, V]) *Table[K, V] {
	if name == "" || bytes.IndexByte([]byte(name), 0) >= 0 {
		panic(fmt.Errorf("qmdb: invalid table name %q", name))
	}
	return &Table[K, V]{
		db:     db,
		name:   name,
		prefix: append([]byte(name), 0),
		schema: schema,
	}
}

func (tbl *Table[K, V]) Name() string {
	return tbl.name
}

func (tbl *Table[K, V]) Schema() Schema[K, V] {
	return tbl.schema
}

// Key returns the application key of k.
func (tbl *Table[K, V]) Key(k K) []byte {
	return tbl.schema.AppendKey(bytes.Clone(tbl.prefix), k)
}

// RawKey returns the application key of an already encoded table key.
func (tbl *Table[K, V]) RawKey(raw []byte) []byte {
	return append(bytes.Clone(tbl.prefix), raw...)
}

// ParseKey splits an application key into the table key, reporting whether
// key belongs to the table.
func (tbl *Table[K, V]) ParseKey(key []byte) (K, bool, error) {
	raw, ok := bytes.CutPrefix(key, tbl.prefix)
	if !ok {
		var zero K
		return zero, false, nil
	}
	k, err := tbl.schema.DecodeKey(raw)
	return k, true, err
}

func (tbl *Table[K, V]) Put(k K, v V, seq uint64) (Position, error) {
	return tbl.db.Put(tbl.Key(k), tbl.schema.AppendValue(nil, v), seq)
}

func (tbl *Table[K, V]) Get(k K) (V, bool, error) {
	var zero V
	raw, found, err := tbl.db.Get(tbl.Key(k))
	if err != nil || !found {
		return zero, found, err
	}
	v, err := tbl.schema.DecodeValue(raw)
	if err != nil {
		return zero, false, fmt.Errorf("qmdb: %s: %w", tbl.name, err)
	}
	return v, true, nil
}

func (tbl *Table[K, V]) Delete(k K) error {
	return tbl.db.Delete(tbl.Key(k))
}

func (tbl *Table[K, V]) Prove(k K) (*Proof, error) {
	return tbl.db.Prove(tbl.Key(k))
}
