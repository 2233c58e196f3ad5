package disklog

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Options contains optional settings for a DiskLog.
type Options struct {
	// CompactionInterval is the period of the background compaction cycle.
	// Zero or negative selects DefaultCompactionInterval.
	CompactionInterval time.Duration

	// Logger receives structured log output. Nil selects slog.Default().
	Logger *slog.Logger

	// Metrics receives Prometheus metrics. Nil disables instrumentation.
	Metrics *Metrics
}

// DiskLog implements the Log interface on top of a SegmentFactory. It owns
// the ordered segment sequence (oldest first) and the index of the currently
// writable segment, and drives both the append path and the background
// compaction cycle.
type DiskLog struct {
	// Lock guarding the segment sequence, the writable cursor and the closed
	// flag. Held during cursor advancement and during the swap-in of a
	// compacted sequence, so appenders never observe a torn sequence.
	mu sync.Mutex

	// Ordered segment sequence, oldest first
	segments []Segment

	// Index of the currently writable segment; segments before it are
	// potentially full or retired
	active int

	// Flag indicating if the log is closed
	closed bool

	// Factory producing fresh segments
	factory SegmentFactory

	// Serializes compaction cycles so scheduled ticks and manual Compact
	// calls never overlap
	compactMu sync.Mutex

	logger  *slog.Logger
	metrics *Metrics

	stop chan struct{}
	wg   sync.WaitGroup
}

var _ Log = (*DiskLog)(nil)

// New creates a DiskLog that allocates segments from the given factory and
// starts the background compaction scheduler.
func New(factory SegmentFactory, opts Options) (*DiskLog, error) {
	return newDiskLog(factory, nil, opts)
}

// Open creates a DiskLog backed by file segments in cfg.Dir, resuming any
// existing segment files, and starts the background compaction scheduler.
func Open(cfg Config, opts Options) (*DiskLog, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	factory := NewFileSegmentFactory(FileSegmentConfig{
		Directory:   cfg.Dir,
		MaxSize:     cfg.MaxSegmentSize,
		Compression: cfg.Compression,
	})

	existing, err := factory.Existing()
	if err != nil {
		return nil, fmt.Errorf("scan existing segments: %w", err)
	}

	if opts.CompactionInterval <= 0 {
		opts.CompactionInterval = cfg.CompactionInterval
	}

	l, err := newDiskLog(factory, existing, opts)
	if err != nil {
		return nil, err
	}

	if len(existing) > 0 {
		l.logger.Info("resumed existing segments", "dir", cfg.Dir, "segments", len(existing))
	}
	return l, nil
}

func newDiskLog(factory SegmentFactory, segments []Segment, opts Options) (*DiskLog, error) {
	if factory == nil {
		return nil, ErrFactoryNil
	}

	interval := opts.CompactionInterval
	if interval <= 0 {
		interval = DefaultCompactionInterval
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	l := &DiskLog{
		segments: segments,
		factory:  factory,
		logger:   logger.With("component", "disklog"),
		metrics:  opts.Metrics,
		stop:     make(chan struct{}),
	}

	l.wg.Add(1)
	go l.compactionLoop(interval)

	return l, nil
}

// Append adds a key/value pair to the log synchronously. A nil val records a
// tombstone for the key. The pair has been durably handed to a segment when
// Append returns without error.
func (l *DiskLog) Append(key string, val []byte) error {
	if key == "" {
		return ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrLogClosed
	}

	// Scan forward from the writable cursor. A capacity rejection is not an
	// error, it is the rotation signal.
	for l.active < len(l.segments) {
		seg := l.segments[l.active]
		ok, err := seg.Append(key, val)
		if err != nil {
			return fmt.Errorf("append to segment %s: %w", seg.Info().ID, err)
		}
		if ok {
			if l.metrics != nil {
				l.metrics.AppendsTotal.Inc()
			}
			return nil
		}
		l.active++
	}

	return l.appendToNewSegment(key, val)
}

// appendToNewSegment allocates a fresh segment, appends it to the sequence,
// advances the writable cursor to it and writes there. Caller must hold mu.
func (l *DiskLog) appendToNewSegment(key string, val []byte) error {
	seg, err := l.factory.New()
	if err != nil {
		return fmt.Errorf("create segment: %w", err)
	}

	l.segments = append(l.segments, seg)
	l.active = len(l.segments) - 1

	ok, err := seg.Append(key, val)
	if err != nil {
		return fmt.Errorf("append to segment %s: %w", seg.Info().ID, err)
	}
	if !ok {
		// A fresh segment rejecting a write means the record alone exceeds
		// its capacity; rotating further would loop forever.
		return ErrRecordTooLarge
	}

	if l.metrics != nil {
		l.metrics.AppendsTotal.Inc()
		l.metrics.RotationsTotal.Inc()
	}
	l.logger.Debug("rotated to new segment", "segment", seg.Info().ID, "segments", len(l.segments))
	return nil
}

// Delete records a tombstone for the given key. The key disappears from the
// log on the next compaction unless a newer value is appended.
func (l *DiskLog) Delete(key string) error {
	return l.Append(key, nil)
}

// Get returns the most recently appended live value for the given key by
// scanning all live segments. It returns ErrKeyNotFound when the key was
// never written or its latest record is a tombstone.
func (l *DiskLog) Get(key string) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	records, err := l.Records()
	if err != nil {
		return nil, err
	}

	it, err := NewFilteredIterator(records, func(rec Record) bool {
		return rec.Key == key
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var latest Record
	found := false
	for it.Next() {
		rec := it.Record()
		// Equal append times: the record seen later in the scan wins
		if !found || rec.AppendTime >= latest.AppendTime {
			latest = rec
			found = true
		}
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	if !found || latest.Tombstone() {
		return nil, ErrKeyNotFound
	}
	return latest.Val, nil
}

// Records creates an iterator over all records in all live segments, oldest
// segment first. Within a segment, record order reflects append order.
func (l *DiskLog) Records() (Iterator, error) {
	segments, err := l.snapshot()
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		return &emptyIterator{}, nil
	}
	return newMultiSegmentIterator(segments), nil
}

// Segments returns metadata for the current live segments, oldest first.
func (l *DiskLog) Segments() []SegmentInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]SegmentInfo, 0, len(l.segments))
	for _, seg := range l.segments {
		infos = append(infos, seg.Info())
	}
	return infos
}

// snapshot returns a copy of the current segment sequence.
func (l *DiskLog) snapshot() ([]Segment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrLogClosed
	}

	segments := make([]Segment, len(l.segments))
	copy(segments, l.segments)
	return segments, nil
}

// compactionLoop runs compaction on a fixed period until the log is closed.
// Cycles never overlap: the loop is the only scheduled caller and a cycle
// that outlasts the interval delays the next tick.
func (l *DiskLog) compactionLoop(interval time.Duration) {
	defer l.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.Compact(); err != nil && !errors.Is(err, ErrLogClosed) {
				l.logger.Error("compaction cycle failed", "error", err)
			}
		}
	}
}

// Close stops the compaction scheduler, waits for an in-flight cycle to
// finish and releases all segments. It is idempotent.
func (l *DiskLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	l.wg.Wait()

	// Serialize with a manual Compact call still in flight
	l.compactMu.Lock()
	defer l.compactMu.Unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, seg := range l.segments {
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
