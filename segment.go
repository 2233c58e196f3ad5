package disklog

import (
	"errors"
)

var (
	// ErrLogClosed is returned when operations are performed on a closed log
	ErrLogClosed = errors.New("log is closed")

	// ErrSegmentClosed is returned when operations are performed on a closed
	// or removed segment
	ErrSegmentClosed = errors.New("segment is closed")

	// ErrKeyNotFound is returned when a key has no live record
	ErrKeyNotFound = errors.New("key not found")

	// ErrEmptyKey is returned when an empty key is provided
	ErrEmptyKey = errors.New("key cannot be empty")

	// ErrRecordTooLarge is returned when a single record exceeds the capacity
	// of a fresh segment
	ErrRecordTooLarge = errors.New("record exceeds segment capacity")

	// ErrFactoryNil is returned when attempting to create a log with a nil
	// segment factory
	ErrFactoryNil = errors.New("segment factory cannot be nil")
)

// SegmentInfo contains metadata about a segment.
type SegmentInfo struct {
	// ID uniquely identifies the segment
	ID string

	// Records is the number of records appended to the segment
	Records int64

	// Size is the total size of the segment's records in bytes
	Size int64

	// ReadOnly indicates whether the segment still accepts writes
	ReadOnly bool
}

// Segment is an append-only, bounded container of records. A segment is
// initially writable, transitions to read-only exactly once, and is finally
// removed when its contents have been superseded by compaction.
type Segment interface {
	// Append stores a key/value pair, assigning the append time. It returns
	// false when the segment's capacity is exhausted; a rejected append must
	// leave the segment unchanged.
	Append(key string, val []byte) (bool, error)

	// AppendRecord stores a pre-built record, preserving its append time.
	// Capacity rejection follows the same contract as Append.
	AppendRecord(rec Record) (bool, error)

	// Records returns an iterator over all records appended to the segment
	Records() (Iterator, error)

	// MarkReadOnly transitions the segment to read-only. It is idempotent;
	// no segment is writable again after the transition.
	MarkReadOnly()

	// Remove permanently destroys the segment's backing storage. It is
	// idempotent.
	Remove() error

	// Close releases resources held by the segment without removing its
	// backing storage
	Close() error

	// Info returns metadata about the segment
	Info() SegmentInfo
}

// SegmentFactory produces fresh, empty, writable segments on demand.
type SegmentFactory interface {
	// New allocates a new segment
	New() (Segment, error)
}
