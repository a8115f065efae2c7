package qmdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

// encodingMethod selects the codec of table values. Internal records are
// always msgpack.
type encodingMethod int

const (
	MsgPack encodingMethod = iota
	JSON

	defaultValueEncoding = MsgPack
)

func (enc encodingMethod) String() string {
	switch enc {
	case MsgPack:
		return "msgpack"
	case JSON:
		return "json"
	default:
		return fmt.Sprintf("encodingMethod(%d)", int(enc))
	}
}

// EncodeValue appends the encoding of v to buf. Values that cannot be
// encoded are a programming error and panic.
func (enc encodingMethod) EncodeValue(buf []byte, v reflect.Value) []byte {
	var err error
	switch enc {
	case MsgPack:
		buf, err = appendMsgpack(buf, v)
	case JSON:
		buf, err = appendJSON(buf, v)
	default:
		panic(fmt.Errorf("unsupported encoding %v", enc))
	}
	if err != nil {
		panic(fmt.Errorf("%v: cannot encode %v: %w", enc, v.Type(), err))
	}
	return buf
}

// DecodeValue decodes raw into the value ptr points to.
func (enc encodingMethod) DecodeValue(raw []byte, ptr reflect.Value) error {
	var err error
	switch enc {
	case MsgPack:
		err = decodeMsgpack(raw, ptr)
	case JSON:
		err = json.Unmarshal(raw, ptr.Interface())
	default:
		panic(fmt.Errorf("unsupported encoding %v", enc))
	}
	if err != nil {
		return dataErrf(raw, 0, err, "%v: cannot decode %v", enc, ptr.Type().Elem())
	}
	return nil
}

func appendMsgpack(buf []byte, v reflect.Value) ([]byte, error) {
	bb := bytesBuilder{buf}
	e := msgpack.GetEncoder()
	defer msgpack.PutEncoder(e)
	e.ResetDict(&bb, nil)
	e.SetSortMapKeys(true)
	err := e.EncodeValue(v)
	return bb.Buf, err
}

func decodeMsgpack(raw []byte, ptr reflect.Value) error {
	var r bytes.Reader
	r.Reset(raw)
	d := msgpack.GetDecoder()
	defer msgpack.PutDecoder(d)
	d.ResetDict(&r, nil)
	return d.DecodeValue(ptr)
}

func appendJSON(buf []byte, v reflect.Value) ([]byte, error) {
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return buf, err
	}
	return appendRaw(buf, raw), nil
}

// encodeRecord encodes an internal record (unit, twig, meta, journal op).
func encodeRecord(buf []byte, v any) []byte {
	return MsgPack.EncodeValue(buf, reflect.ValueOf(v))
}

// decodeRecord decodes an internal record into the value v points to.
func decodeRecord(buf []byte, v any) error {
	return MsgPack.DecodeValue(buf, reflect.ValueOf(v))
}
