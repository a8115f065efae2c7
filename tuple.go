package qmdb

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// tuple format: el1 el2 ... elN len1 len2 ... lenN-1 n
//
// Lengths and the count are "reverse uvarints" read right to left, so a
// tuple can be decoded from its end without a header.
type tuple [][]byte

var errInvalidRuvarint = errors.New("invalid reverse uvarint")

func (tup tuple) String() string {
	var buf strings.Builder
	for i, el := range tup {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(hex.EncodeToString(el))
	}
	return buf.String()
}

func (tup tuple) encode(buf []byte) []byte {
	var te tupleEncoder
	for _, el := range tup {
		te.begin(buf)
		buf = appendRaw(buf, el)
	}
	return te.finalize(buf)
}

func decodeTuple(raw []byte) (tuple, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c, raw, err := decodeRuvarint(raw)
	if err != nil {
		return nil, err
	}
	if c == 0 {
		return nil, nil
	}
	if uint64(c) > uint64(len(raw))+1 {
		return nil, fmt.Errorf("invalid tuple: %d components in %d bytes", c, len(raw))
	}

	lens := make([]uint32, c)
	for i := int(c) - 2; i >= 0; i-- {
		lens[i], raw, err = decodeRuvarint(raw)
		if err != nil {
			return nil, err
		}
	}

	var explicit uint64
	for _, n := range lens[:c-1] {
		explicit += uint64(n)
	}
	if explicit > uint64(len(raw)) {
		return nil, fmt.Errorf("invalid tuple: sum of explicit lengths %d is greater than data length %d", explicit, len(raw))
	}

	tup := make(tuple, c)
	var start uint32
	for i := uint32(0); i < c-1; i++ {
		tup[i] = raw[start : start+lens[i]]
		start += lens[i]
	}
	tup[c-1] = raw[start:]
	return tup, nil
}

type tupleEncoder struct {
	startOffPlus1 int
	lens          []int
}

func (te *tupleEncoder) count() int {
	return len(te.lens) + 1
}

// begin starts the next element at the end of buf.
func (te *tupleEncoder) begin(buf []byte) {
	if off := te.startOffPlus1; off != 0 {
		te.lens = append(te.lens, len(buf)+1-off)
	}
	te.startOffPlus1 = len(buf) + 1
}

func (te *tupleEncoder) finalize(buf []byte) []byte {
	for _, v := range te.lens {
		buf = appendRuvarint(buf, uint32(v))
	}
	return appendRuvarint(buf, uint32(te.count()))
}

// appendRuvarint appends a byte-reversed uvarint.
func appendRuvarint(buf []byte, v uint32) []byte {
	var vb [binary.MaxVarintLen32]byte
	vn := binary.PutUvarint(vb[:], uint64(v))
	off, buf := grow(buf, vn)
	for i, b := range vb[:vn] {
		buf[off+vn-i-1] = b
	}
	return buf
}

func decodeRuvarint(buf []byte) (uint32, []byte, error) {
	n := len(buf)
	if n == 0 {
		return 0, nil, errInvalidRuvarint
	}
	var vb [binary.MaxVarintLen32]byte
	c := min(n, binary.MaxVarintLen32)
	for i := 0; i < c; i++ {
		vb[i] = buf[n-i-1]
	}
	v, vn := binary.Uvarint(vb[:c])
	if vn <= 0 || v > 0xFFFF_FFFF {
		return 0, nil, errInvalidRuvarint
	}
	return uint32(v), buf[:n-vn], nil
}
