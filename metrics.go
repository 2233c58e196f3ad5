package disklog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for a disk log. Pass a Metrics value via
// Options to enable instrumentation; a nil Metrics disables it.
type Metrics struct {
	// AppendsTotal counts records durably handed to a segment
	AppendsTotal prometheus.Counter

	// RotationsTotal counts fresh segments created by the append path
	RotationsTotal prometheus.Counter

	// CompactionRunsTotal counts compaction cycles by status.
	// Labels: status (success, failed)
	CompactionRunsTotal *prometheus.CounterVec

	// CompactionDuration observes compaction cycle duration in seconds
	CompactionDuration prometheus.Histogram

	// LiveSegments tracks the number of live segments after each compaction
	LiveSegments prometheus.Gauge

	// RecordsRewrittenTotal counts records carried into compacted segments
	RecordsRewrittenTotal prometheus.Counter

	// SegmentsReclaimedTotal counts segments whose backing storage was
	// deleted after compaction
	SegmentsReclaimedTotal prometheus.Counter
}

// NewMetrics creates and registers disk log metrics with the given
// registerer. A nil registerer selects prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		AppendsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "disklog",
			Name:      "appends_total",
			Help:      "Total records durably handed to a segment.",
		}),
		RotationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "disklog",
			Name:      "rotations_total",
			Help:      "Total fresh segments created by the append path.",
		}),
		CompactionRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "disklog",
			Name:      "compaction_runs_total",
			Help:      "Total compaction cycles by status.",
		}, []string{"status"}),
		CompactionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "disklog",
			Name:      "compaction_duration_seconds",
			Help:      "Compaction cycle duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),
		LiveSegments: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "disklog",
			Name:      "live_segments",
			Help:      "Number of live segments after the last compaction.",
		}),
		RecordsRewrittenTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "disklog",
			Name:      "records_rewritten_total",
			Help:      "Total records carried into compacted segments.",
		}),
		SegmentsReclaimedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "disklog",
			Name:      "segments_reclaimed_total",
			Help:      "Total segments whose backing storage was deleted.",
		}),
	}
}
