package indexer

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is returned when a unit's buffer list cannot grow.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrKeyMismatch reports a truncated key collision that cannot be resolved.
	ErrKeyMismatch = errors.New("key mismatch")

	// ErrSplitImpossible is returned when a full leaf holds a single truncated
	// key, so no split point keeps the two ranges disjoint.
	ErrSplitImpossible = fmt.Errorf("%w: leaf split would break key-range disjointness", ErrKeyMismatch)

	// ErrCorruptLayout reports a malformed persisted buffer or unit record.
	ErrCorruptLayout = errors.New("corrupt layout")

	errSlotNotFound = errors.New("slot not found")
)

// ShardError attaches the shard a failure happened in.
type ShardError struct {
	Shard int
	Msg   string
	Err   error
}

func shardErrf(shard int, err error, format string, args ...any) error {
	return &ShardError{shard, fmt.Sprintf(format, args...), err}
}

func (e *ShardError) Unwrap() error {
	return e.Err
}

func (e *ShardError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("shard %d: %v", e.Shard, e.Err)
	}
	if e.Err == nil {
		return fmt.Sprintf("shard %d: %s", e.Shard, e.Msg)
	}
	return fmt.Sprintf("shard %d: %s: %v", e.Shard, e.Msg, e.Err)
}
