package disklog

import (
	"errors"
	"sync"
)

// emptyIterator is an implementation of Iterator that contains no records.
type emptyIterator struct{}

func (it *emptyIterator) Next() bool {
	return false
}

func (it *emptyIterator) Record() Record {
	return Record{}
}

func (it *emptyIterator) Err() error {
	return nil
}

func (it *emptyIterator) Close() error {
	return nil
}

// multiSegmentIterator iterates through records across multiple segments,
// oldest segment first. Segment iterators are opened lazily, one at a time.
type multiSegmentIterator struct {
	// Lock to protect concurrent access
	mu sync.RWMutex

	// Segments to iterate through, oldest first
	segments []Segment

	// Index of the segment currently being iterated
	index int

	// Iterator for the current segment
	current Iterator

	// Current record
	currentRecord Record

	// Error encountered during iteration
	err error

	// Flag indicating if the iterator has been closed
	closed bool
}

// newMultiSegmentIterator creates an iterator spanning the given segments.
func newMultiSegmentIterator(segments []Segment) *multiSegmentIterator {
	return &multiSegmentIterator{
		segments: segments,
		index:    -1,
	}
}

// Next advances to the next record, moving on to the next segment when the
// current one is drained.
func (it *multiSegmentIterator) Next() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.err != nil {
		return false
	}

	for {
		if it.current != nil {
			if it.current.Next() {
				it.currentRecord = it.current.Record()
				return true
			}

			if err := it.current.Err(); err != nil {
				it.err = err
				return false
			}
			if err := it.current.Close(); err != nil {
				it.err = err
				return false
			}
			it.current = nil
		}

		it.index++
		if it.index >= len(it.segments) {
			return false
		}

		current, err := it.segments[it.index].Records()
		if err != nil {
			it.err = err
			return false
		}
		it.current = current
	}
}

// Record returns the current record.
func (it *multiSegmentIterator) Record() Record {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.currentRecord
}

// Err returns any error encountered during iteration.
func (it *multiSegmentIterator) Err() error {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.err
}

// Close releases resources used by the iterator.
func (it *multiSegmentIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil
	}

	it.closed = true
	if it.current != nil {
		return it.current.Close()
	}
	return nil
}

// FilteredIterator filters records during iteration based on a predicate.
type FilteredIterator struct {
	// Lock to protect concurrent access
	mu sync.RWMutex

	// Underlying iterator
	iterator Iterator

	// Filter function that determines if a record should be included
	filter func(Record) bool

	// Current record
	currentRecord Record

	// Flag indicating if the iterator has been closed
	closed bool
}

// NewFilteredIterator creates a new iterator that filters records.
func NewFilteredIterator(iterator Iterator, filter func(Record) bool) (Iterator, error) {
	if iterator == nil {
		return nil, errors.New("iterator cannot be nil")
	}
	if filter == nil {
		return nil, errors.New("filter function cannot be nil")
	}

	return &FilteredIterator{
		iterator: iterator,
		filter:   filter,
	}, nil
}

// Next advances to the next record that passes the filter.
func (it *FilteredIterator) Next() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return false
	}

	for it.iterator.Next() {
		rec := it.iterator.Record()
		if it.filter(rec) {
			it.currentRecord = rec
			return true
		}
	}
	return false
}

// Record returns the current record.
func (it *FilteredIterator) Record() Record {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.currentRecord
}

// Err returns any error encountered during iteration.
func (it *FilteredIterator) Err() error {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.iterator.Err()
}

// Close releases resources used by the iterator.
func (it *FilteredIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil
	}

	it.closed = true
	return it.iterator.Close()
}
