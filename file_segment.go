package disklog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
)

const (
	// DefaultMaxSegmentSize is the default segment capacity in bytes (64MB)
	DefaultMaxSegmentSize int64 = 64 * 1024 * 1024

	// DefaultFilePrefix is the default segment file name prefix
	DefaultFilePrefix = "seg"

	// DefaultFileExtension is the default segment file extension
	DefaultFileExtension = "log"

	// recordHeaderSize is append time (8) + flags (1) + key length (2) +
	// value length (4)
	recordHeaderSize = 8 + 1 + 2 + 4

	// crc32Size is the size of the CRC32 record trailer
	crc32Size = 4

	// maxKeySize is the largest encodable key (2-byte length field)
	maxKeySize = 0xFFFF
)

const (
	// flagTombstone marks a record whose value is absent
	flagTombstone = 1 << 0

	// flagSnappy marks a snappy-compressed value
	flagSnappy = 1 << 1
)

var (
	// ErrChecksumMismatch is returned when a record fails CRC32 verification
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrKeyTooLarge is returned when a key exceeds the encodable size
	ErrKeyTooLarge = errors.New("key too large")
)

// FileSegmentConfig contains configuration for file-backed segments.
type FileSegmentConfig struct {
	// Directory where segment files are stored
	Directory string

	// Prefix for segment file names (default: "seg")
	Prefix string

	// Extension for segment files (default: "log")
	Extension string

	// MaxSize is the segment capacity in bytes (default: 64MB)
	MaxSize int64

	// Compression enables snappy compression of record values
	Compression bool
}

// FileSegment implements the Segment interface backed by a single
// append-only file. Records are length-prefixed and carry a CRC32 trailer.
type FileSegment struct {
	// Lock for concurrent access
	mu sync.Mutex

	cfg FileSegmentConfig

	// Unique segment identifier, part of the file name
	id string

	// Full path of the backing file
	path string

	// Append handle; nil once the segment is read-only or closed
	file *os.File

	// Bytes written so far
	size int64

	// Records written so far
	records int64

	// Lifecycle flags
	readOnly bool
	removed  bool
	closed   bool
}

// Append stores a key/value pair, assigning the current time as append time.
func (s *FileSegment) Append(key string, val []byte) (bool, error) {
	return s.appendRecord(Record{Key: key, AppendTime: time.Now().UnixNano(), Val: val})
}

// AppendRecord stores a pre-built record, preserving its append time.
func (s *FileSegment) AppendRecord(rec Record) (bool, error) {
	return s.appendRecord(rec)
}

func (s *FileSegment) appendRecord(rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed || s.closed {
		return false, ErrSegmentClosed
	}
	if rec.Key == "" {
		return false, ErrEmptyKey
	}
	if len(rec.Key) > maxKeySize {
		return false, ErrKeyTooLarge
	}
	if s.readOnly {
		return false, nil
	}

	buf := s.encodeRecord(rec)
	if int64(len(buf)) > s.cfg.MaxSize {
		return false, ErrRecordTooLarge
	}
	// Capacity rejection must be side-effect-free
	if s.size+int64(len(buf)) > s.cfg.MaxSize {
		return false, nil
	}

	if s.file == nil {
		file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return false, fmt.Errorf("open segment file: %w", err)
		}
		s.file = file
	}

	n, err := s.file.Write(buf)
	if err != nil {
		// Truncate back so a partial write cannot surface as a corrupt record
		_ = s.file.Truncate(s.size)
		return false, fmt.Errorf("write record: %w", err)
	}

	s.size += int64(n)
	s.records++
	return true, nil
}

// encodeRecord serializes a record: header, key, value, CRC32 trailer. The
// checksum covers the header, key and stored value bytes.
func (s *FileSegment) encodeRecord(rec Record) []byte {
	val := rec.Val
	flags := byte(0)
	if rec.Tombstone() {
		flags |= flagTombstone
		val = nil
	} else if s.cfg.Compression {
		compressed := snappy.Encode(nil, val)
		if len(compressed) < len(val) {
			flags |= flagSnappy
			val = compressed
		}
	}

	buf := make([]byte, recordHeaderSize+len(rec.Key)+len(val)+crc32Size)
	binary.BigEndian.PutUint64(buf[0:8], uint64(rec.AppendTime))
	buf[8] = flags
	binary.BigEndian.PutUint16(buf[9:11], uint16(len(rec.Key)))
	binary.BigEndian.PutUint32(buf[11:15], uint32(len(val)))
	copy(buf[recordHeaderSize:], rec.Key)
	copy(buf[recordHeaderSize+len(rec.Key):], val)

	sum := crc32.ChecksumIEEE(buf[:len(buf)-crc32Size])
	binary.BigEndian.PutUint32(buf[len(buf)-crc32Size:], sum)
	return buf
}

// readFileRecord decodes one record from r, positioned at offset within the
// segment file. Returns io.EOF at a clean end of the stream.
func readFileRecord(r io.Reader, offset int64) (Record, error) {
	header := make([]byte, recordHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Record{}, err
	}

	appendTime := int64(binary.BigEndian.Uint64(header[0:8]))
	flags := header[8]
	keyLen := int(binary.BigEndian.Uint16(header[9:11]))
	valLen := int(binary.BigEndian.Uint32(header[11:15]))

	body := make([]byte, keyLen+valLen+crc32Size)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	expected := binary.BigEndian.Uint32(body[len(body)-crc32Size:])
	sum := crc32.ChecksumIEEE(header)
	sum = crc32.Update(sum, crc32.IEEETable, body[:len(body)-crc32Size])
	if sum != expected {
		return Record{}, ErrChecksumMismatch
	}

	rec := Record{
		Key:        string(body[:keyLen]),
		Offset:     offset,
		Length:     int64(recordHeaderSize + len(body)),
		AppendTime: appendTime,
	}

	if flags&flagTombstone == 0 {
		stored := body[keyLen : keyLen+valLen]
		if flags&flagSnappy != 0 {
			val, err := snappy.Decode(nil, stored)
			if err != nil {
				return Record{}, fmt.Errorf("%w: %v", ErrChecksumMismatch, err)
			}
			rec.Val = val
		} else {
			rec.Val = make([]byte, valLen)
			copy(rec.Val, stored)
		}
		if rec.Val == nil {
			// An empty value must not read back as a tombstone
			rec.Val = []byte{}
		}
	}

	return rec, nil
}

// Records returns an iterator over all records appended to the segment. The
// iterator reads through a separate handle so it never disturbs the append
// position, and only surfaces bytes written before it was created.
func (s *FileSegment) Records() (Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil, ErrSegmentClosed
	}

	file, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) && s.size == 0 {
			// Nothing was ever written; the backing file may not exist yet
			return &emptyIterator{}, nil
		}
		return nil, fmt.Errorf("open segment file: %w", err)
	}

	return &fileIterator{
		file:   file,
		reader: bufio.NewReader(file),
		limit:  s.size,
	}, nil
}

// MarkReadOnly transitions the segment to read-only, syncing and releasing
// the append handle.
func (s *FileSegment) MarkReadOnly() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return
	}
	s.readOnly = true
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}
}

// Remove permanently deletes the segment's backing file.
func (s *FileSegment) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.removed {
		return nil
	}
	s.removed = true

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove segment file: %w", err)
	}
	return nil
}

// Close syncs and releases the append handle without deleting the file.
func (s *FileSegment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file != nil {
		_ = s.file.Sync()
		err := s.file.Close()
		s.file = nil
		return err
	}
	return nil
}

// Info returns metadata about the segment.
func (s *FileSegment) Info() SegmentInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmentInfo{
		ID:       s.id,
		Records:  s.records,
		Size:     s.size,
		ReadOnly: s.readOnly,
	}
}

// FileSegmentFactory produces file-backed segments in a directory. File
// names carry a monotonic sequence number, so the on-disk set can be
// reopened in creation order.
type FileSegmentFactory struct {
	cfg FileSegmentConfig

	// Lock guarding the sequence counter
	mu  sync.Mutex
	seq uint64
}

// NewFileSegmentFactory creates a factory producing segments under
// cfg.Directory, applying defaults for absent fields.
func NewFileSegmentFactory(cfg FileSegmentConfig) *FileSegmentFactory {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultFilePrefix
	}
	if cfg.Extension == "" {
		cfg.Extension = DefaultFileExtension
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSegmentSize
	}
	return &FileSegmentFactory{cfg: cfg}
}

// New allocates a fresh, empty, writable segment file.
func (f *FileSegmentFactory) New() (Segment, error) {
	f.mu.Lock()
	seq := f.seq
	f.seq++
	f.mu.Unlock()

	if err := os.MkdirAll(f.cfg.Directory, 0755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	id := uuid.NewString()
	name := fmt.Sprintf("%s-%016x-%s.%s", f.cfg.Prefix, seq, id, f.cfg.Extension)

	return &FileSegment{
		cfg:  f.cfg,
		id:   id,
		path: filepath.Join(f.cfg.Directory, name),
	}, nil
}

// Existing reopens segment files already present in the factory's
// directory, oldest first, and advances the sequence counter past them.
// Files that do not match the naming convention are skipped.
func (f *FileSegmentFactory) Existing() ([]Segment, error) {
	entries, err := os.ReadDir(f.cfg.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read segment directory: %w", err)
	}

	type found struct {
		seq  uint64
		id   string
		path string
	}
	var segments []found

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, id, err := f.parseName(entry.Name())
		if err != nil {
			continue
		}
		segments = append(segments, found{
			seq:  seq,
			id:   id,
			path: filepath.Join(f.cfg.Directory, entry.Name()),
		})
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].seq < segments[j].seq
	})

	result := make([]Segment, 0, len(segments))
	var maxSeq uint64
	for _, fs := range segments {
		seg := &FileSegment{cfg: f.cfg, id: fs.id, path: fs.path}
		if err := seg.scan(); err != nil {
			return nil, fmt.Errorf("scan segment %s: %w", fs.id, err)
		}
		result = append(result, seg)
		if fs.seq >= maxSeq {
			maxSeq = fs.seq + 1
		}
	}

	f.mu.Lock()
	if maxSeq > f.seq {
		f.seq = maxSeq
	}
	f.mu.Unlock()

	return result, nil
}

// parseName extracts the sequence number and segment ID from a file name of
// the form <prefix>-<seq hex>-<uuid>.<extension>.
func (f *FileSegmentFactory) parseName(name string) (uint64, string, error) {
	suffix := "." + f.cfg.Extension
	if !strings.HasSuffix(name, suffix) {
		return 0, "", fmt.Errorf("invalid extension")
	}
	name = strings.TrimSuffix(name, suffix)

	prefix := f.cfg.Prefix + "-"
	if !strings.HasPrefix(name, prefix) {
		return 0, "", fmt.Errorf("invalid prefix")
	}
	name = strings.TrimPrefix(name, prefix)

	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("invalid name format")
	}

	seq, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid sequence: %w", err)
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return 0, "", fmt.Errorf("invalid segment id: %w", err)
	}

	return seq, parts[1], nil
}

// scan walks the backing file to recover the record count and size.
func (s *FileSegment) scan() error {
	file, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var offset int64
	var records int64
	for {
		rec, err := readFileRecord(reader, offset)
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		offset += rec.Length
		records++
	}

	s.size = offset
	s.records = records
	return nil
}

// fileIterator implements the Iterator interface for file-backed segments.
type fileIterator struct {
	// Lock for concurrent access
	mu sync.RWMutex

	file   *os.File
	reader *bufio.Reader

	// Byte offset of the next record
	offset int64

	// Bytes readable by this iterator
	limit int64

	current Record
	err     error
	closed  bool
}

// Next advances to the next record.
func (it *fileIterator) Next() bool {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed || it.err != nil || it.offset >= it.limit {
		return false
	}

	rec, err := readFileRecord(it.reader, it.offset)
	if err != nil {
		if err != io.EOF {
			it.err = err
		}
		return false
	}

	it.current = rec
	it.offset += rec.Length
	return true
}

// Record returns the current record.
func (it *fileIterator) Record() Record {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.current
}

// Err returns any error encountered during iteration.
func (it *fileIterator) Err() error {
	it.mu.RLock()
	defer it.mu.RUnlock()

	return it.err
}

// Close releases resources used by the iterator.
func (it *fileIterator) Close() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.closed {
		return nil
	}
	it.closed = true
	return it.file.Close()
}
