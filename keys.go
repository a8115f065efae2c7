package qmdb

import (
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"reflect"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"
)

// FlatMarshaler lets a key type pick its own raw encoding as one tuple
// component.
type FlatMarshaler interface {
	MarshalFlat(buf []byte) []byte
}

type FlatUnmarshaler interface {
	UnmarshalFlat(buf []byte) error
}

var (
	flatMarshalerType   = reflect.TypeOf((*FlatMarshaler)(nil)).Elem()
	flatUnmarshalerType = reflect.TypeOf((*FlatUnmarshaler)(nil)).Elem()
	binaryMarshalerType = reflect.TypeOf((*encoding.BinaryMarshaler)(nil)).Elem()
	binaryUnmarshalType = reflect.TypeOf((*encoding.BinaryUnmarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	timeType            = reflect.TypeOf(time.Time{})
)

// keyEncoding turns values of a Go type into application keys: every leaf
// field becomes one tuple component, so struct keys sort field by field.
type keyEncoding struct {
	typ   reflect.Type
	comps []*keyComponent
}

type keyComponent struct {
	typ  reflect.Type
	path string

	// getters descend from the key value to the component, innermost first.
	getters []func(v reflect.Value, init bool) reflect.Value

	encode func(buf []byte, v reflect.Value) []byte
	decode func(b []byte, v reflect.Value) error
	parse  func(buf []byte, s string) ([]byte, error)
	format func(b []byte) (string, error)
}

func (kc *keyComponent) in(val reflect.Value, init bool) reflect.Value {
	for i := len(kc.getters) - 1; i >= 0; i-- {
		if !val.IsValid() {
			return val
		}
		val = kc.getters[i](val, init)
	}
	return val
}

var keyEncodings sync.Map

func keyEncodingOf(typ reflect.Type) *keyEncoding {
	if e, ok := keyEncodings.Load(typ); ok {
		return e.(*keyEncoding)
	}
	enc := &keyEncoding{typ: typ}
	walkKeyComponents(typ, func(kc *keyComponent) {
		enc.comps = append(enc.comps, kc)
	})
	e, _ := keyEncodings.LoadOrStore(typ, enc)
	return e.(*keyEncoding)
}

func (enc *keyEncoding) encode(buf []byte, val reflect.Value) []byte {
	var te tupleEncoder
	for _, kc := range enc.comps {
		te.begin(buf)
		cval := kc.in(val, false)
		if !cval.IsValid() {
			continue // nil pointer encodes as an empty component
		}
		buf = kc.encode(buf, cval)
	}
	return te.finalize(buf)
}

// decode decodes raw into the value ptr points to.
func (enc *keyEncoding) decode(raw []byte, ptr reflect.Value) error {
	tup, err := decodeTuple(raw)
	if err != nil {
		return dataErrf(raw, 0, err, "invalid %v key", enc.typ)
	}
	if len(tup) != len(enc.comps) {
		return dataErrf(raw, 0, nil, "%v key has %d components, wanted %d", enc.typ, len(tup), len(enc.comps))
	}
	val := ptr.Elem()
	for i, kc := range enc.comps {
		cval := kc.in(val, true)
		if err := kc.decode(tup[i], cval); err != nil {
			return dataErrf(raw, 0, err, "%v key%s", enc.typ, kc.path)
		}
	}
	return nil
}

// parse encodes a key given as one string per component.
func (enc *keyEncoding) parse(buf []byte, strs []string) ([]byte, error) {
	if len(strs) != len(enc.comps) {
		return nil, fmt.Errorf("%v key has %d components, got %d", enc.typ, len(enc.comps), len(strs))
	}
	var te tupleEncoder
	for i, kc := range enc.comps {
		te.begin(buf)
		var err error
		buf, err = kc.parse(buf, strs[i])
		if err != nil {
			return nil, fmt.Errorf("component %d%s %q: %w", i, kc.path, strs[i], err)
		}
	}
	return te.finalize(buf), nil
}

// format is the inverse of parse.
func (enc *keyEncoding) format(raw []byte) ([]string, error) {
	tup, err := decodeTuple(raw)
	if err != nil {
		return nil, err
	}
	if len(tup) != len(enc.comps) {
		return nil, fmt.Errorf("%v key has %d components, got %d", enc.typ, len(enc.comps), len(tup))
	}
	strs := make([]string, len(tup))
	for i, kc := range enc.comps {
		if strs[i], err = kc.format(tup[i]); err != nil {
			return nil, fmt.Errorf("component %d%s: %w", i, kc.path, err)
		}
	}
	return strs, nil
}

func walkKeyComponents(typ reflect.Type, f func(kc *keyComponent)) {
	switch {
	case typ == timeType:
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				return binary.BigEndian.AppendUint64(buf, uint64(v.Interface().(time.Time).UnixNano()))
			},
			decode: func(b []byte, v reflect.Value) error {
				if len(b) != 8 {
					return fmt.Errorf("invalid time length %d", len(b))
				}
				v.Set(reflect.ValueOf(time.Unix(0, int64(binary.BigEndian.Uint64(b))).UTC()))
				return nil
			},
			parse: func(buf []byte, s string) ([]byte, error) {
				tm, err := time.Parse(time.RFC3339Nano, s)
				if err != nil {
					return nil, err
				}
				return binary.BigEndian.AppendUint64(buf, uint64(tm.UnixNano())), nil
			},
			format: func(b []byte) (string, error) {
				if len(b) != 8 {
					return "", fmt.Errorf("invalid time length %d", len(b))
				}
				return time.Unix(0, int64(binary.BigEndian.Uint64(b))).UTC().Format(time.RFC3339Nano), nil
			},
		})
		return
	case typ.Implements(flatMarshalerType) && reflect.PointerTo(typ).Implements(flatUnmarshalerType):
		f(opaqueComponent(typ, func(buf []byte, v reflect.Value) []byte {
			return v.Interface().(FlatMarshaler).MarshalFlat(buf)
		}, func(b []byte, v reflect.Value) error {
			return v.Addr().Interface().(FlatUnmarshaler).UnmarshalFlat(b)
		}))
		return
	case typ.Implements(binaryMarshalerType) && reflect.PointerTo(typ).Implements(binaryUnmarshalType):
		f(opaqueComponent(typ, func(buf []byte, v reflect.Value) []byte {
			data, err := v.Interface().(encoding.BinaryMarshaler).MarshalBinary()
			if err != nil {
				panic(fmt.Errorf("%v.MarshalBinary: %w", typ, err))
			}
			return append(buf, data...)
		}, func(b []byte, v reflect.Value) error {
			return v.Addr().Interface().(encoding.BinaryUnmarshaler).UnmarshalBinary(b)
		}))
		return
	}

	switch typ.Kind() {
	case reflect.String:
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				return append(buf, v.String()...)
			},
			decode: func(b []byte, v reflect.Value) error {
				v.SetString(string(b))
				return nil
			},
			parse: func(buf []byte, s string) ([]byte, error) {
				return append(buf, s...), nil
			},
			format: func(b []byte) (string, error) {
				if !utf8.Valid(b) {
					return "", fmt.Errorf("not a valid UTF-8 string")
				}
				return string(b), nil
			},
		})
	case reflect.Uint, reflect.Uint64, reflect.Uint32, reflect.Uint16, reflect.Uint8, reflect.Uintptr:
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				return binary.BigEndian.AppendUint64(buf, v.Uint())
			},
			decode: func(b []byte, v reflect.Value) error {
				if len(b) != 8 {
					return fmt.Errorf("invalid integer length %d", len(b))
				}
				u := binary.BigEndian.Uint64(b)
				if v.OverflowUint(u) {
					return fmt.Errorf("%d overflows %v", u, typ)
				}
				v.SetUint(u)
				return nil
			},
			parse: func(buf []byte, s string) ([]byte, error) {
				u, err := strconv.ParseUint(s, 10, typ.Bits())
				if err != nil {
					return nil, err
				}
				return binary.BigEndian.AppendUint64(buf, u), nil
			},
			format: func(b []byte) (string, error) {
				if len(b) != 8 {
					return "", fmt.Errorf("invalid integer length %d", len(b))
				}
				return strconv.FormatUint(binary.BigEndian.Uint64(b), 10), nil
			},
		})
	case reflect.Int, reflect.Int64, reflect.Int32, reflect.Int16, reflect.Int8:
		// the sign bit is flipped so that negative numbers sort first
		const flip = uint64(1) << 63
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				return binary.BigEndian.AppendUint64(buf, uint64(v.Int())^flip)
			},
			decode: func(b []byte, v reflect.Value) error {
				if len(b) != 8 {
					return fmt.Errorf("invalid integer length %d", len(b))
				}
				i := int64(binary.BigEndian.Uint64(b) ^ flip)
				if v.OverflowInt(i) {
					return fmt.Errorf("%d overflows %v", i, typ)
				}
				v.SetInt(i)
				return nil
			},
			parse: func(buf []byte, s string) ([]byte, error) {
				i, err := strconv.ParseInt(s, 10, typ.Bits())
				if err != nil {
					return nil, err
				}
				return binary.BigEndian.AppendUint64(buf, uint64(i)^flip), nil
			},
			format: func(b []byte) (string, error) {
				if len(b) != 8 {
					return "", fmt.Errorf("invalid integer length %d", len(b))
				}
				return strconv.FormatInt(int64(binary.BigEndian.Uint64(b)^flip), 10), nil
			},
		})
	case reflect.Slice:
		if typ.Elem().Kind() != reflect.Uint8 {
			panic(fmt.Errorf("qmdb: cannot use %v in a key", typ))
		}
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				return append(buf, v.Bytes()...)
			},
			decode: func(b []byte, v reflect.Value) error {
				v.Set(reflect.ValueOf(append([]byte(nil), b...)).Convert(typ))
				return nil
			},
			parse:  parseHex,
			format: formatHex,
		})
	case reflect.Array:
		if typ.Elem().Kind() != reflect.Uint8 {
			panic(fmt.Errorf("qmdb: cannot use %v in a key", typ))
		}
		n := typ.Len()
		f(&keyComponent{
			typ: typ,
			encode: func(buf []byte, v reflect.Value) []byte {
				off, buf := grow(buf, n)
				reflect.Copy(reflect.ValueOf(buf[off:]), v)
				return buf
			},
			decode: func(b []byte, v reflect.Value) error {
				if len(b) != n {
					return fmt.Errorf("got %d bytes for %v", len(b), typ)
				}
				reflect.Copy(v, reflect.ValueOf(b))
				return nil
			},
			parse: func(buf []byte, s string) ([]byte, error) {
				b, err := hex.DecodeString(s)
				if err != nil {
					return nil, err
				}
				if len(b) != n {
					return nil, fmt.Errorf("got %d bytes for %v", len(b), typ)
				}
				return append(buf, b...), nil
			},
			format: formatHex,
		})
	case reflect.Pointer:
		elem := typ.Elem()
		get := func(v reflect.Value, init bool) reflect.Value {
			if v.IsNil() {
				if !init {
					return reflect.Value{}
				}
				v.Set(reflect.New(elem))
			}
			return v.Elem()
		}
		walkKeyComponents(elem, func(kc *keyComponent) {
			kc.getters = append(kc.getters, get)
			f(kc)
		})
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			field := typ.Field(i)
			if !field.IsExported() {
				continue
			}
			get := func(v reflect.Value, init bool) reflect.Value {
				return v.Field(i)
			}
			walkKeyComponents(field.Type, func(kc *keyComponent) {
				kc.getters = append(kc.getters, get)
				kc.path = "." + field.Name + kc.path
				f(kc)
			})
		}
	default:
		panic(fmt.Errorf("qmdb: cannot use %v in a key", typ))
	}
}

// opaqueComponent is a component encoded by the type itself; as a string it
// is hex, or whatever UnmarshalText accepts.
func opaqueComponent(typ reflect.Type, encode func([]byte, reflect.Value) []byte, decode func([]byte, reflect.Value) error) *keyComponent {
	kc := &keyComponent{
		typ:    typ,
		encode: encode,
		decode: decode,
		parse:  parseHex,
		format: formatHex,
	}
	if reflect.PointerTo(typ).Implements(textUnmarshalerType) {
		kc.parse = func(buf []byte, s string) ([]byte, error) {
			v := reflect.New(typ)
			if err := v.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
				return nil, err
			}
			return encode(buf, v.Elem()), nil
		}
	}
	return kc
}

func parseHex(buf []byte, s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return append(buf, b...), nil
}

func formatHex(b []byte) (string, error) {
	return hex.EncodeToString(b), nil
}
