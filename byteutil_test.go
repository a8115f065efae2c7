package qmdb

import (
	"errors"
	"reflect"
	"testing"
)

func TestBytesBuilder_Basics(t *testing.T) {
	var bb bytesBuilder
	off := bb.Grow(3)
	copy(bb.Buf[off:], []byte{1, 2, 3})
	bb.AppendByte(4)
	bb.AppendFixedUint16(0x0506)
	bb.AppendFixedUint32(0x0708090A)
	bb.AppendFixedUint64(0x0102030405060708)

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1, 2, 3, 4, 5, 6, 7, 8}
	if !reflect.DeepEqual(bb.Buf, want) {
		t.Fatalf("bb.Buf = %x, wanted %x", bb.Buf, want)
	}

	bb.Trim(2)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2}) {
		t.Fatalf("after Trim: bb.Buf = %x, wanted 0102", bb.Buf)
	}

	_, _ = bb.Write([]byte{9, 8})
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 9, 8}) {
		t.Fatalf("after Write: bb.Buf = %x, wanted 01020908", bb.Buf)
	}

	_ = bb.WriteByte(7)
	if !reflect.DeepEqual(bb.Buf, []byte{1, 2, 9, 8, 7}) {
		t.Fatalf("after WriteByte: bb.Buf = %x, wanted 0102090807", bb.Buf)
	}
}

func TestEnsureCapacity_keepsContents(t *testing.T) {
	buf := ensureCapacity([]byte{1, 2}, 100)
	if cap(buf) < 100 {
		t.Fatalf("cap = %d, wanted >= 100", cap(buf))
	}
	if !reflect.DeepEqual(buf, []byte{1, 2}) {
		t.Fatalf("buf = %x, wanted 0102", buf)
	}
}

func TestByteDecoder(t *testing.T) {
	d := makeByteDecoder([]byte{0, 1, 0, 0, 0, 2, 0, 0, 0, 0, 0, 0, 0, 3, 0xFF})
	if v, err := d.FixedUint16(); err != nil || v != 1 {
		t.Fatalf("FixedUint16 = %d, %v, wanted 1", v, err)
	}
	if v, err := d.FixedUint32(); err != nil || v != 2 {
		t.Fatalf("FixedUint32 = %d, %v, wanted 2", v, err)
	}
	if v, err := d.FixedUint64(); err != nil || v != 3 {
		t.Fatalf("FixedUint64 = %d, %v, wanted 3", v, err)
	}
	if d.Off() != 14 {
		t.Fatalf("Off = %d, wanted 14", d.Off())
	}

	var de *DataError
	if err := d.End(); !errors.As(err, &de) || de.Off != 14 {
		t.Fatalf("End = %v, wanted DataError at 14", err)
	}
	if _, err := d.FixedUint32(); !errors.As(err, &de) {
		t.Fatalf("FixedUint32 past end = %v, wanted DataError", err)
	}
	if _, err := d.Raw(1); err != nil {
		t.Fatalf("Raw(1) = %v", err)
	}
	if err := d.End(); err != nil {
		t.Fatalf("End = %v, wanted nil", err)
	}
}

func TestDataError_truncatesLongData(t *testing.T) {
	data := make([]byte, 200)
	err := dataErrf(data, 0, errInvalidRuvarint, "bad")
	msg := err.Error()
	if want := "bad: invalid reverse uvarint: (200) "; msg[:len(want)] != want {
		t.Fatalf("msg = %q, wanted prefix %q", msg, want)
	}
	if len(msg) > 300 {
		t.Fatalf("msg is %d bytes, wanted data elided", len(msg))
	}
	if !errors.Is(err, errInvalidRuvarint) {
		t.Fatalf("errors.Is(err, errInvalidRuvarint) = false")
	}
}
