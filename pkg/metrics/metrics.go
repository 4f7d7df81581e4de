// Package metrics provides Prometheus metrics for fern batch runs.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// RecordsRead tracks raw records read per source format
	RecordsRead = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "records_read_total",
			Help:      "Total number of raw records read from sources",
		},
		[]string{"format"},
	)

	// RecordsStaged tracks staging decisions by resulting status
	RecordsStaged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "records_staged_total",
			Help:      "Total number of staged records by processing status",
		},
		[]string{"entity_kind", "status"},
	)

	// FieldIssues tracks field normalization problems
	FieldIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "import",
			Name:      "field_issues_total",
			Help:      "Total number of field normalization issues",
		},
		[]string{"field"},
	)

	// PromotedRows tracks promotion outcomes per row
	PromotedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "promotion",
			Name:      "rows_total",
			Help:      "Total number of promoted staging rows by outcome",
		},
		[]string{"entity_kind", "outcome"},
	)

	// RelationshipsInserted tracks junction rows inserted
	RelationshipsInserted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "promotion",
			Name:      "relationships_inserted_total",
			Help:      "Total number of relationship rows inserted",
		},
		[]string{"relationship_kind"},
	)

	// DuplicatesRemoved tracks entities removed by duplicate collapse
	DuplicatesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "promotion",
			Name:      "duplicates_removed_total",
			Help:      "Total number of duplicate entities removed",
		},
		[]string{"entity_kind"},
	)

	// JobRowsAffected tracks rows written or deleted by aggregation jobs
	JobRowsAffected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "jobs",
			Name:      "rows_affected_total",
			Help:      "Total number of rows affected by aggregation and retention jobs",
		},
		[]string{"job"},
	)

	// JobRuns tracks job executions by status
	JobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fern",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Total number of job runs by status",
		},
		[]string{"job", "status"},
	)

	// RunDuration tracks batch command duration in seconds
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fern",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Duration of batch runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"operation", "status"},
	)
)

// Push sends the default registry to a Pushgateway. Batch runs exit before a scrape could happen.
func Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx)
}
