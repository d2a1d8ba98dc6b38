package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrIO is wrapped around every failed file operation.
	ErrIO = errors.New("io error")

	// ErrCorruptRecord is returned when a record cannot be decoded and it is
	// not a partial write at the tail of a segment.
	ErrCorruptRecord = errors.New("corrupt record")

	// ErrKeyNotFound is returned when removing a key that doesn't exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrSegmentBusy is returned when deleting a segment that the index still
	// references, or the segment currently open for appends.
	ErrSegmentBusy = errors.New("segment busy")

	// ErrClosed is returned by every operation on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrRecordTooLarge is returned when a key and value don't fit in one
	// record. Nothing is written.
	ErrRecordTooLarge = errors.New("record too large")
)

// ioError wraps err so that both ErrIO and the underlying error match errors.Is.
func ioError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

func corruptError(gen uint64, offset int64, reason string) error {
	return fmt.Errorf("segment %d offset %d: %w: %s", gen, offset, ErrCorruptRecord, reason)
}
