package disklog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMemorySegmentCapacity is the default record capacity of an
// in-memory segment.
const DefaultMemorySegmentCapacity = 1024

// MemorySegment implements the Segment interface using in-memory storage
// with a fixed record capacity. It is primarily useful in tests and as a
// reference implementation of the segment contract.
type MemorySegment struct {
	// Lock for concurrent access
	mu sync.Mutex

	// Unique segment identifier
	id string

	// Maximum number of records the segment accepts
	capacity int

	// Records in append order
	records []Record

	// Total record bytes appended
	size int64

	// Lifecycle flags
	readOnly bool
	removed  bool
	closed   bool

	// Clock assigning append times; replaceable in tests
	now func() int64
}

// NewMemorySegment creates an in-memory segment holding at most capacity
// records. A non-positive capacity selects DefaultMemorySegmentCapacity.
func NewMemorySegment(capacity int) *MemorySegment {
	if capacity <= 0 {
		capacity = DefaultMemorySegmentCapacity
	}
	return &MemorySegment{
		id:       uuid.NewString(),
		capacity: capacity,
		now:      func() int64 { return time.Now().UnixNano() },
	}
}

// Append stores a key/value pair, assigning the append time.
func (s *MemorySegment) Append(key string, val []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(Record{Key: key, AppendTime: s.now(), Val: val})
}

// AppendRecord stores a pre-built record, preserving its append time.
func (s *MemorySegment) AppendRecord(rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.append(rec)
}

// append is the shared write path. Caller must hold the lock.
func (s *MemorySegment) append(rec Record) (bool, error) {
	if s.removed || s.closed {
		return false, ErrSegmentClosed
	}
	if rec.Key == "" {
		return false, ErrEmptyKey
	}
	if s.readOnly || len(s.records) >= s.capacity {
		return false, nil
	}

	rec.Offset = int64(len(s.records))
	rec.Length = int64(len(rec.Key) + len(rec.Val))
	s.records = append(s.records, rec)
	s.size += rec.Length
	return true, nil
}

// Records returns an iterator over a snapshot of the segment's records.
func (s *MemorySegment) Records() (Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, ErrSegmentClosed
	}

	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	return &memoryIterator{records: snapshot, position: -1}, nil
}

// MarkReadOnly transitions the segment to read-only.
func (s *MemorySegment) MarkReadOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.readOnly = true
}

// Remove permanently discards the segment's records.
func (s *MemorySegment) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil
	}
	s.removed = true
	s.records = nil
	s.size = 0
	return nil
}

// Close releases the segment without discarding its records.
func (s *MemorySegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

// Info returns metadata about the segment.
func (s *MemorySegment) Info() SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmentInfo{
		ID:       s.id,
		Records:  int64(len(s.records)),
		Size:     s.size,
		ReadOnly: s.readOnly,
	}
}

// MemorySegmentFactory produces in-memory segments with a fixed record
// capacity.
type MemorySegmentFactory struct {
	// Capacity is the record capacity of each produced segment. A
	// non-positive value selects DefaultMemorySegmentCapacity.
	Capacity int

	// Now overrides the append-time clock of produced segments. Nil selects
	// the wall clock.
	Now func() int64
}

// New allocates a fresh writable in-memory segment.
func (f *MemorySegmentFactory) New() (Segment, error) {
	seg := NewMemorySegment(f.Capacity)
	if f.Now != nil {
		seg.now = f.Now
	}
	return seg, nil
}

// memoryIterator implements the Iterator interface over a record snapshot.
type memoryIterator struct {
	records  []Record
	position int
}

// Next advances to the next record.
func (it *memoryIterator) Next() bool {
	if it.position >= len(it.records)-1 {
		return false
	}
	it.position++
	return true
}

// Record returns the current record.
func (it *memoryIterator) Record() Record {
	if it.position < 0 || it.position >= len(it.records) {
		return Record{}
	}
	return it.records[it.position]
}

// Err returns any error encountered during iteration.
func (it *memoryIterator) Err() error {
	return nil
}

// Close releases resources used by the iterator.
func (it *memoryIterator) Close() error {
	return nil
}
