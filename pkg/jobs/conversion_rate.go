package jobs

import (
	"context"
	"math"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const ConversionRateName = "conversion_rate"

// ConversionRate computes contacts per view as a percentage for stats with at least one view.
// Rates are computed once; later changes to views are not reflected.
type ConversionRate struct {
	store     store.AnalyticsStore
	logger    ectologger.Logger
	batchSize int
}

func NewConversionRate(st store.AnalyticsStore, logger ectologger.Logger) *ConversionRate {
	return &ConversionRate{
		store:     st,
		logger:    logger,
		batchSize: DefaultBatchSize,
	}
}

func (j *ConversionRate) WithBatchSize(n int) *ConversionRate {
	if n > 0 {
		j.batchSize = n
	}
	return j
}

func (j *ConversionRate) Name() string { return ConversionRateName }

// Rate is (whatsapp + phone + email + directions) / views * 100, rounded to 2 decimals
func Rate(stat models.UnitStat) (float64, bool) {
	if stat.Views <= 0 {
		return 0, false
	}
	return math.Round(float64(stat.Contacts())*10000/float64(stat.Views)) / 100, true
}

func (j *ConversionRate) Run(ctx context.Context) (res Result, err error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.ConversionRate.Run")
	defer span.End()
	defer func() { record(j.Name(), res, err) }()

	res.Job = j.Name()
	seen := map[int64]bool{}

	for {
		stats, err := j.store.ListUnitStatsWithoutRate(ctx, j.batchSize)
		if err != nil {
			j.logger.WithContext(ctx).WithError(err).Error("Failed to list unit stats")
			tracing.RecordError(span, err)
			return res, err
		}

		progressed := false
		for _, stat := range stats {
			if seen[stat.ID] {
				continue
			}
			seen[stat.ID] = true
			progressed = true

			rate, ok := Rate(stat)
			if !ok {
				continue
			}
			written, err := j.store.SetConversionRate(ctx, stat.ID, rate)
			if err != nil {
				res.Failed++
				j.logger.WithContext(ctx).WithError(err).WithField("stat_id", stat.ID).Error("Failed to write conversion rate")
				continue
			}
			if written {
				res.Affected++
			}
		}

		if !progressed || len(stats) < j.batchSize {
			break
		}
	}

	j.logger.WithContext(ctx).WithFields(map[string]any{
		"count":  res.Affected,
		"failed": res.Failed,
	}).Info("Conversion rates calculated")
	return res, nil
}
