package qmdb

import (
	"errors"
	"fmt"

	"github.com/andreyvit/qmdb/indexer"
	"github.com/andreyvit/qmdb/twig"
)

var (
	ErrKeyMismatch       = indexer.ErrKeyMismatch
	ErrCapacityExceeded  = indexer.ErrCapacityExceeded
	ErrCorruptLayout     = indexer.ErrCorruptLayout
	ErrSplitImpossible   = indexer.ErrSplitImpossible
	ErrPrunedData        = twig.ErrPrunedData
	ErrInvalidTransition = twig.ErrInvalidTransition
	ErrStaleSequence     = errors.New("stale sequence number")
	ErrClosed            = errors.New("database closed")
	ErrIncompatible      = errors.New("incompatible database format")
)

type (
	ShardError = indexer.ShardError
	TwigError  = twig.TwigError
)

type DataError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func dataErrf(data []byte, off int, err error, format string, args ...any) error {
	return &DataError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *DataError) Unwrap() error {
	return e.Err
}

func (e *DataError) Error() string {
	const prefixLen = 64
	const suffixLen = 32
	n := len(e.Data)
	if n <= prefixLen+suffixLen {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x", e.Msg, e.Err, n, e.Data)
		} else {
			return fmt.Sprintf("%s: (%d) %x", e.Msg, n, e.Data)
		}
	} else {
		p, s := e.Data[:prefixLen], e.Data[n-suffixLen:]
		if e.Err != nil {
			return fmt.Sprintf("%s: %v: (%d) %x...%x", e.Msg, e.Err, n, p, s)
		} else {
			return fmt.Sprintf("%s: (%d) %x...%x", e.Msg, n, p, s)
		}
	}
}

// KeyError reports a failed operation on one application key.
type KeyError struct {
	Key []byte
	Op  string
	Err error
}

func keyErr(op string, key []byte, err error) error {
	if err == nil {
		return nil
	}
	return &KeyError{Key: key, Op: op, Err: err}
}

func (e *KeyError) Unwrap() error {
	return e.Err
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("qmdb: %s %s: %v", e.Op, hexstr(e.Key), e.Err)
}
