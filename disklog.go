// Package disklog provides a segmented append-only key-value log with
// periodic background compaction. Writes are routed into bounded append-only
// segments, rotating to a fresh segment when the active one rejects a write.
// A background cycle periodically rewrites all live segments into a compacted
// set, keeping only the most recently appended, non-deleted value per key.
package disklog

// Record is the versioned key/value unit stored in a segment.
type Record struct {
	// Key identifies the record; multiple records may share a key across
	// segments, and exactly one of them is live after compaction
	Key string

	// Offset is the physical position of the record inside its owning segment
	Offset int64

	// Length is the encoded size of the record in bytes
	Length int64

	// AppendTime is the unix-nano timestamp assigned when the record was
	// appended. It is a recency signal used to merge versions during
	// compaction, not a linearizable clock.
	AppendTime int64

	// Val contains the payload; a nil Val marks the record as a tombstone
	Val []byte
}

// Tombstone reports whether this record marks its key as deleted.
func (r Record) Tombstone() bool {
	return r.Val == nil
}

// Iterator allows iterating through stored records. Iterators are finite,
// forward-only and single-pass.
type Iterator interface {
	// Next advances to the next record
	Next() bool

	// Record returns the current record
	Record() Record

	// Err returns any error encountered during iteration
	Err() error

	// Close releases resources used by the iterator
	Close() error
}

// Log defines the main interface for the segmented key-value log.
type Log interface {
	// Append adds a key/value pair to the log. A nil val records a tombstone
	Append(key string, val []byte) error

	// Delete records a tombstone for the given key
	Delete(key string) error

	// Get returns the most recently appended live value for the given key
	Get(key string) ([]byte, error)

	// Records creates an iterator over all records in all live segments
	Records() (Iterator, error)

	// Compact runs one compaction cycle synchronously
	Compact() error

	// Segments returns metadata for the current live segments, oldest first
	Segments() []SegmentInfo

	// Close stops the compaction scheduler and releases all segments
	Close() error
}
