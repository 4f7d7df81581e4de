// Package jobs holds the periodic aggregation and retention jobs. Each job is stateless between runs:
// it reads what is still uncomputed or expired and writes each unit independently.
package jobs

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/metrics"
)

const DefaultBatchSize = 500

// Job is one periodic unit of work
type Job interface {
	Name() string
	Run(ctx context.Context) (Result, error)
}

// Result of one job run
type Result struct {
	Job      string `json:"job"`
	Affected int64  `json:"affected"`
	Failed   int    `json:"failed"`
}

func record(name string, res Result, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	metrics.JobRuns.WithLabelValues(name, status).Inc()
	metrics.JobRowsAffected.WithLabelValues(name).Add(float64(res.Affected))
}

type clock func() time.Time
