package disklog

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenSegment delegates to an in-memory segment but fails when read.
type brokenSegment struct {
	*MemorySegment
}

func (s *brokenSegment) Records() (Iterator, error) {
	return nil, errors.New("disk failure")
}

// scanKeys drains a full scan into a key → latest-value map, applying the
// same recency rule as compaction.
func scanKeys(t *testing.T, l *DiskLog) map[string][]byte {
	t.Helper()

	it, err := l.Records()
	require.NoError(t, err, "Records should not return an error")
	defer it.Close()

	latest := make(map[string]Record)
	for it.Next() {
		rec := it.Record()
		prev, ok := latest[rec.Key]
		if !ok || rec.AppendTime >= prev.AppendTime {
			latest[rec.Key] = rec
		}
	}
	require.NoError(t, it.Err(), "Iterator should not have an error")

	result := make(map[string][]byte)
	for k, rec := range latest {
		if !rec.Tombstone() {
			result[k] = rec.Val
		}
	}
	return result
}

// TestCompact_MergeLatest tests that compaction keeps exactly the most
// recent value when a key has versions in different segments
func TestCompact_MergeLatest(t *testing.T) {
	// Capacity 1 forces every version into its own segment
	l := newTestLog(t, 1)

	require.NoError(t, l.Append("k", []byte("old")), "Append should not return an error")
	require.NoError(t, l.Append("k", []byte("new")), "Append should not return an error")
	require.Len(t, l.Segments(), 2, "The two versions should live in different segments")

	err := l.Compact()
	require.NoError(t, err, "Compact should not return an error")

	infos := l.Segments()
	assert.Len(t, infos, 1, "Compaction should fold both segments into one")
	assert.Equal(t, int64(1), infos[0].Records, "Only one version of the key should survive")

	val, err := l.Get("k")
	assert.NoError(t, err, "Get should not return an error")
	assert.Equal(t, []byte("new"), val, "The version with the greater append time should survive")
}

// TestCompact_TombstoneWins tests that a later tombstone removes the key
// entirely from the compaction output
func TestCompact_TombstoneWins(t *testing.T) {
	// Capacity-2 segments, appends (a,1) (b,2) (a,3) (a,tombstone)
	l := newTestLog(t, 2)

	require.NoError(t, l.Append("a", []byte("1")), "Append should not return an error")
	require.NoError(t, l.Append("b", []byte("2")), "Append should not return an error")
	require.NoError(t, l.Append("a", []byte("3")), "Append should not return an error")
	require.NoError(t, l.Delete("a"), "Delete should not return an error")

	err := l.Compact()
	require.NoError(t, err, "Compact should not return an error")

	// b → 2 is the only surviving record; a is gone
	keys := scanKeys(t, l)
	assert.Equal(t, map[string][]byte{"b": []byte("2")}, keys, "only b should survive compaction")

	infos := l.Segments()
	require.Len(t, infos, 1, "Compaction should produce a single segment")
	assert.Equal(t, int64(1), infos[0].Records, "The surviving segment should hold exactly one record")

	_, err = l.Get("a")
	assert.Equal(t, ErrKeyNotFound, err, "a should not be resurrected by compaction")
}

// TestCompact_TombstoneDoesNotRegress tests that a tombstone never shadows a
// value appended after it
func TestCompact_TombstoneDoesNotRegress(t *testing.T) {
	l := newTestLog(t, 1)

	require.NoError(t, l.Append("k", []byte("v1")), "Append should not return an error")
	require.NoError(t, l.Delete("k"), "Delete should not return an error")
	require.NoError(t, l.Append("k", []byte("v2")), "Append should not return an error")

	require.NoError(t, l.Compact(), "Compact should not return an error")

	val, err := l.Get("k")
	assert.NoError(t, err, "Get should not return an error")
	assert.Equal(t, []byte("v2"), val, "The value appended after the tombstone should survive")
}

// TestCompact_Idempotent tests that a second compaction with no intervening
// writes leaves the per-key latest value set unchanged
func TestCompact_Idempotent(t *testing.T) {
	l := newTestLog(t, 2)

	for i := 0; i < 10; i++ {
		require.NoError(t, l.Append(fmt.Sprintf("key-%d", i%3), []byte{byte(i)}), "Append should not return an error")
	}
	require.NoError(t, l.Delete("key-0"), "Delete should not return an error")

	require.NoError(t, l.Compact(), "First Compact should not return an error")
	first := scanKeys(t, l)

	require.NoError(t, l.Compact(), "Second Compact should not return an error")
	second := scanKeys(t, l)

	assert.Equal(t, first, second, "Running compaction twice should be equivalent to running it once")
}

// TestCompact_TieBreak tests that of two records with identical append
// times, the one seen later in the scan wins
func TestCompact_TieBreak(t *testing.T) {
	// A frozen clock gives every record the same append time
	frozen := func() int64 { return 42 }
	l, err := New(&MemorySegmentFactory{Capacity: 1, Now: frozen}, Options{
		CompactionInterval: time.Hour,
	})
	require.NoError(t, err, "New should not return an error")
	t.Cleanup(func() { _ = l.Close() })

	require.NoError(t, l.Append("k", []byte("first")), "Append should not return an error")
	require.NoError(t, l.Append("k", []byte("second")), "Append should not return an error")
	require.Len(t, l.Segments(), 2, "The two versions should live in different segments")

	require.NoError(t, l.Compact(), "Compact should not return an error")

	val, err := l.Get("k")
	assert.NoError(t, err, "Get should not return an error")
	assert.Equal(t, []byte("second"), val, "On equal append times the later record in scan order should win")
}

// TestCompact_EmptyLog tests compaction of a log with no segments
func TestCompact_EmptyLog(t *testing.T) {
	factory := &failingFactory{inner: &MemorySegmentFactory{}, allow: 0}
	l, err := New(factory, Options{CompactionInterval: time.Hour})
	require.NoError(t, err, "New should not return an error")
	t.Cleanup(func() { _ = l.Close() })

	// No segments: the cycle is a no-op and must not touch the factory
	err = l.Compact()
	assert.NoError(t, err, "Compact on an empty log should not return an error")
	assert.Zero(t, factory.calls, "Compact on an empty log should not allocate segments")
}

// TestCompact_ReclaimsOldSegments tests that superseded segments lose their
// backing storage after a successful cycle
func TestCompact_ReclaimsOldSegments(t *testing.T) {
	l := newTestLog(t, 2)

	for i := 0; i < 6; i++ {
		require.NoError(t, l.Append(fmt.Sprintf("key-%d", i), []byte{byte(i)}), "Append should not return an error")
	}

	old := make([]Segment, 0)
	l.mu.Lock()
	old = append(old, l.segments...)
	l.mu.Unlock()
	require.Len(t, old, 3, "Six records at capacity 2 should occupy three segments")

	require.NoError(t, l.Compact(), "Compact should not return an error")

	for i, seg := range old {
		mem := seg.(*MemorySegment)
		mem.mu.Lock()
		removed := mem.removed
		mem.mu.Unlock()
		assert.True(t, removed, "pre-compaction segment %d should have been reclaimed", i)
	}
}

// TestCompact_RewriteFailureKeepsOldSegments tests that a factory failure
// during rewrite aborts the cycle without deleting any pre-existing segment
func TestCompact_RewriteFailureKeepsOldSegments(t *testing.T) {
	inner := &MemorySegmentFactory{Capacity: 2, Now: testClock()}
	factory := &failingFactory{inner: inner, allow: 3}
	l, err := New(factory, Options{CompactionInterval: time.Hour})
	require.NoError(t, err, "New should not return an error")
	t.Cleanup(func() { _ = l.Close() })

	// Consume the three allowed allocations with appends
	for i := 0; i < 6; i++ {
		require.NoError(t, l.Append(fmt.Sprintf("key-%d", i), []byte{byte(i)}), "Append should not return an error")
	}
	require.Len(t, l.Segments(), 3, "Six records at capacity 2 should occupy three segments")

	// The rewrite phase cannot allocate a fresh segment and must abort
	err = l.Compact()
	assert.Error(t, err, "Compact should surface the rewrite failure")

	// Nothing was deleted and every record is still readable
	assert.Len(t, l.Segments(), 3, "A failed cycle should not change the segment sequence")
	for i := 0; i < 6; i++ {
		val, err := l.Get(fmt.Sprintf("key-%d", i))
		require.NoError(t, err, "Get should not return an error after a failed cycle")
		assert.Equal(t, []byte{byte(i)}, val, "No record should be lost by a failed cycle")
	}
}

// TestCompact_CollectFailureKeepsOldSegments tests that a read failure
// during collect aborts the cycle without deleting any pre-existing segment
func TestCompact_CollectFailureKeepsOldSegments(t *testing.T) {
	good := NewMemorySegment(4)
	good.now = testClock()
	bad := &brokenSegment{MemorySegment: NewMemorySegment(4)}

	factory := &stubFactory{segments: []Segment{good, bad}}
	l, err := New(factory, Options{CompactionInterval: time.Hour})
	require.NoError(t, err, "New should not return an error")
	t.Cleanup(func() { _ = l.Close() })

	// Fill the good segment, then rotate into the broken one
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(fmt.Sprintf("key-%d", i), []byte{byte(i)}), "Append should not return an error")
	}

	err = l.Compact()
	assert.Error(t, err, "Compact should surface the read failure")

	// The readable segment must not have been reclaimed
	good.mu.Lock()
	removed := good.removed
	good.mu.Unlock()
	assert.False(t, removed, "no pre-existing segment should be deleted after a failed collect")
}

// TestCompact_ConcurrentAppends tests appends racing the compaction cycle
func TestCompact_ConcurrentAppends(t *testing.T) {
	const workers = 4
	const perWorker = 50

	l := newTestLog(t, 4)

	stop := make(chan struct{})
	compactorDone := make(chan struct{})

	// One goroutine compacting in a tight loop
	go func() {
		defer close(compactorDone)
		for {
			select {
			case <-stop:
				return
			default:
				if err := l.Compact(); err != nil {
					t.Errorf("Compact returned error: %v", err)
					return
				}
			}
		}
	}()

	// Writers racing rotation and the sequence swap
	var writers sync.WaitGroup
	for w := 0; w < workers; w++ {
		writers.Add(1)
		go func(w int) {
			defer writers.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d-k%d", w, i)
				if err := l.Append(key, []byte(key)); err != nil {
					t.Errorf("Append(%s) returned error: %v", key, err)
					return
				}
			}
		}(w)
	}
	writers.Wait()

	close(stop)
	<-compactorDone

	// A final quiescent compaction, then every key must be present
	require.NoError(t, l.Compact(), "final Compact should not return an error")

	keys := scanKeys(t, l)
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := fmt.Sprintf("w%d-k%d", w, i)
			assert.Equal(t, []byte(key), keys[key], "key %s should survive concurrent compaction", key)
		}
	}
}
