package disklog

import (
	"fmt"
	"time"
)

// Compact runs one compaction cycle synchronously: it merges all live
// segments down to the latest record per key, rewrites the survivors into a
// fresh minimal segment set, swaps the new sequence in and reclaims the
// backing storage of the superseded segments.
//
// Any failure while collecting or rewriting aborts the cycle before a single
// pre-existing segment is deleted; the next scheduled tick retries from
// scratch. Cycles are serialized, so a manual call never overlaps a
// scheduled one.
func (l *DiskLog) Compact() error {
	l.compactMu.Lock()
	defer l.compactMu.Unlock()

	old, err := l.snapshot()
	if err != nil {
		return err
	}
	if len(old) == 0 {
		return nil
	}

	start := time.Now()

	latest, err := l.collectRecords(old)
	if err != nil {
		l.observeCompaction(false, start)
		return fmt.Errorf("collect records: %w", err)
	}

	fresh, rewritten, err := l.rewriteRecords(latest)
	if err != nil {
		l.discardSegments(fresh)
		l.observeCompaction(false, start)
		return fmt.Errorf("rewrite records: %w", err)
	}

	l.swapSegments(old, fresh)
	l.reclaimSegments(old)

	l.observeCompaction(true, start)
	if l.metrics != nil {
		l.metrics.RecordsRewrittenTotal.Add(float64(rewritten))
	}
	l.logger.Info("compaction completed",
		"merged", len(old),
		"segments", len(fresh),
		"records", rewritten,
		"elapsed", time.Since(start))
	return nil
}

// collectRecords scans every segment oldest first and keeps the most recent
// record per key, tombstones included. Each segment is marked read-only
// before it is drained, so no append can land in a segment after its
// contents were captured; a rejected writer rotates into a fresh segment
// that survives the sequence swap.
func (l *DiskLog) collectRecords(segments []Segment) (map[string]Record, error) {
	latest := make(map[string]Record)

	for _, seg := range segments {
		seg.MarkReadOnly()

		it, err := seg.Records()
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", seg.Info().ID, err)
		}

		for it.Next() {
			rec := it.Record()
			prev, ok := latest[rec.Key]
			// Equal append times: the record seen later in the scan wins
			if !ok || rec.AppendTime >= prev.AppendTime {
				latest[rec.Key] = rec
			}
		}
		err = it.Err()
		if cerr := it.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("read segment %s: %w", seg.Info().ID, err)
		}
	}

	return latest, nil
}

// rewriteRecords writes every non-tombstone record into a fresh segment set,
// rotating to another fresh segment on capacity rejection. Tombstones are
// dropped entirely. The returned set always contains at least one segment.
// On error the caller discards the partially written set.
func (l *DiskLog) rewriteRecords(latest map[string]Record) ([]Segment, int, error) {
	seg, err := l.factory.New()
	if err != nil {
		return nil, 0, fmt.Errorf("create segment: %w", err)
	}
	fresh := []Segment{seg}

	rewritten := 0
	for _, rec := range latest {
		if rec.Tombstone() {
			continue
		}

		ok, err := seg.AppendRecord(rec)
		if err != nil {
			return fresh, rewritten, fmt.Errorf("append to segment %s: %w", seg.Info().ID, err)
		}
		if !ok {
			seg, err = l.factory.New()
			if err != nil {
				return fresh, rewritten, fmt.Errorf("create segment: %w", err)
			}
			fresh = append(fresh, seg)

			ok, err = seg.AppendRecord(rec)
			if err != nil {
				return fresh, rewritten, fmt.Errorf("append to segment %s: %w", seg.Info().ID, err)
			}
			if !ok {
				return fresh, rewritten, ErrRecordTooLarge
			}
		}
		rewritten++
	}

	return fresh, rewritten, nil
}

// swapSegments atomically replaces the compacted prefix of the segment
// sequence with the fresh set. Segments created by concurrent appenders
// while the cycle ran are kept as the tail of the new sequence, and the
// writable cursor points at the first of them so their capacity is not
// wasted.
func (l *DiskLog) swapSegments(old, fresh []Segment) {
	l.mu.Lock()
	defer l.mu.Unlock()

	tail := l.segments[len(old):]
	segments := make([]Segment, 0, len(fresh)+len(tail))
	segments = append(segments, fresh...)
	segments = append(segments, tail...)
	l.segments = segments

	if len(tail) > 0 {
		l.active = len(fresh)
	} else {
		l.active = len(l.segments) - 1
	}
}

// reclaimSegments deletes the backing storage of the superseded segments.
// Runs strictly after a confirmed rewrite and swap; a failed removal leaves
// an orphaned segment file behind but never loses merged data.
func (l *DiskLog) reclaimSegments(old []Segment) {
	for _, seg := range old {
		if err := seg.Remove(); err != nil {
			l.logger.Warn("segment reclaim failed", "segment", seg.Info().ID, "error", err)
			continue
		}
		if l.metrics != nil {
			l.metrics.SegmentsReclaimedTotal.Inc()
		}
	}
}

// discardSegments removes segments from an aborted rewrite.
func (l *DiskLog) discardSegments(segments []Segment) {
	for _, seg := range segments {
		if err := seg.Remove(); err != nil {
			l.logger.Warn("discarding partial segment failed", "segment", seg.Info().ID, "error", err)
		}
	}
}

func (l *DiskLog) observeCompaction(success bool, start time.Time) {
	if l.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	l.metrics.CompactionRunsTotal.WithLabelValues(status).Inc()
	l.metrics.CompactionDuration.Observe(time.Since(start).Seconds())
	if success {
		l.mu.Lock()
		live := len(l.segments)
		l.mu.Unlock()
		l.metrics.LiveSegments.Set(float64(live))
	}
}
