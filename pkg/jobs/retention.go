package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const RetentionName = "retention"

// DefaultRetention is the age after which each analytics kind is deleted
var DefaultRetention = map[models.RetentionKind]time.Duration{
	models.RetentionEvents:      90 * 24 * time.Hour,
	models.RetentionSessions:    90 * 24 * time.Hour,
	models.RetentionPerformance: 30 * 24 * time.Hour,
}

var retentionOrder = []models.RetentionKind{
	models.RetentionEvents,
	models.RetentionSessions,
	models.RetentionPerformance,
}

// Retention deletes analytics rows older than their kind's window. The cutoff is an absolute age,
// so an immediate second run deletes nothing. Kinds are swept independently.
type Retention struct {
	store   store.AnalyticsStore
	logger  ectologger.Logger
	now     clock
	windows map[models.RetentionKind]time.Duration
	// Deleted holds the per-kind counts of the last run
	Deleted map[models.RetentionKind]int64
}

func NewRetention(st store.AnalyticsStore, logger ectologger.Logger) *Retention {
	windows := make(map[models.RetentionKind]time.Duration, len(DefaultRetention))
	for k, v := range DefaultRetention {
		windows[k] = v
	}
	return &Retention{
		store:   st,
		logger:  logger,
		now:     time.Now,
		windows: windows,
	}
}

func (j *Retention) WithClock(now func() time.Time) *Retention {
	j.now = now
	return j
}

// WithWindow overrides one kind's retention window
func (j *Retention) WithWindow(kind models.RetentionKind, window time.Duration) *Retention {
	if window > 0 {
		j.windows[kind] = window
	}
	return j
}

func (j *Retention) Name() string { return RetentionName }

func (j *Retention) Run(ctx context.Context) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Retention.Run")
	defer span.End()
	defer func() { record(j.Name(), res, err) }()

	res.Job = j.Name()
	j.Deleted = map[models.RetentionKind]int64{}
	now := j.now()

	var errs []error
	for _, kind := range retentionOrder {
		cutoff := now.Add(-j.windows[kind])
		n, err := j.store.DeleteOlderThan(ctx, kind, cutoff)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", kind, err))
			j.logger.WithContext(ctx).WithError(err).WithField("kind", kind).Error("Failed to delete expired analytics rows")
			continue
		}
		j.Deleted[kind] = n
		res.Affected += n
	}

	j.logger.WithContext(ctx).WithFields(map[string]any{
		"deleted_events":      j.Deleted[models.RetentionEvents],
		"deleted_sessions":    j.Deleted[models.RetentionSessions],
		"deleted_performance": j.Deleted[models.RetentionPerformance],
	}).Info("Old analytics data cleaned")

	if len(errs) > 0 {
		err = errors.Join(errs...)
		tracing.RecordError(span, err)
		return res, err
	}
	return res, nil
}
