// Package staging decides the processing status of normalized records and persists them to the
// staging table, where they wait for validation and promotion.
package staging

import (
	"context"
	"crypto/md5"
	"encoding/hex"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is what the staging service needs from persistence
type Store interface {
	store.Transactor
	store.StagingStore
	store.EntityStore
}

// Decision is the automatic status of one record
type Decision struct {
	Record          models.NormalizedRecord
	SourceKey       string
	Status          models.ProcessingStatus
	Reason          *string
	MatchedEntityID *int64
	// Err is the resolution problem behind a match_ambiguous or related_unmatched decision
	Err error
}

type Service struct {
	store    Store
	resolver *matching.Resolver
	logger   ectologger.Logger
}

func NewService(st Store, resolver *matching.Resolver, logger ectologger.Logger) *Service {
	return &Service{store: st, resolver: resolver, logger: logger}
}

// SourceKey is the stable identity of a record inside its batch
func SourceKey(rec models.NormalizedRecord) string {
	sum := md5.Sum([]byte(rec.SourceIdentity()))
	return hex.EncodeToString(sum[:])
}

// Evaluate decides a status for every record without writing anything. Catalogs are read once per
// entity kind.
func (s *Service) Evaluate(ctx context.Context, recs []models.NormalizedRecord) ([]Decision, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Service.Evaluate")
	defer span.End()

	catalogs := map[models.EntityKind][]matching.Candidate{}
	catalog := func(kind models.EntityKind) ([]matching.Candidate, error) {
		if c, ok := catalogs[kind]; ok {
			return c, nil
		}
		entities, err := s.store.ListEntities(ctx, kind)
		if err != nil {
			return nil, ferrors.FromDB(kind.Table(), err)
		}
		catalogs[kind] = matching.FromEntities(entities)
		return catalogs[kind], nil
	}

	out := make([]Decision, 0, len(recs))
	for _, rec := range recs {
		d, err := s.decide(ctx, rec, catalog)
		if err != nil {
			tracing.RecordError(span, err)
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Service) decide(ctx context.Context, rec models.NormalizedRecord, catalog func(models.EntityKind) ([]matching.Candidate, error)) (Decision, error) {
	d := Decision{Record: rec, SourceKey: SourceKey(rec), Status: models.StatusValidated}

	if rec.Name == nil {
		d.Status, d.Reason = models.StatusRejected, reason(models.ReasonMissingName)
		return d, nil
	}
	if rec.CoordinateFlag != models.CoordinateOK {
		d.Status, d.Reason = models.StatusPending, reason(models.ReasonCoordinateFlagged)
		return d, nil
	}

	own, err := catalog(rec.EntityKind)
	if err != nil {
		return d, err
	}
	res := s.resolver.Resolve(ctx, matching.Candidate{Name: *rec.Name, NaturalKey: rec.NaturalKey}, own)
	switch {
	case res.Ambiguous:
		d.Status, d.Reason = models.StatusPending, reason(models.ReasonMatchAmbiguous)
		d.Err = res.Err(rec.EntityKind, *rec.Name)
		return d, nil
	case res.Matched():
		id := res.Match.ID
		d.MatchedEntityID = &id
	}

	for _, ref := range rec.RelatedRefs {
		// specialties are created on promotion
		if ref.Kind == models.EntitySpecialty {
			continue
		}
		refs, err := catalog(ref.Kind)
		if err != nil {
			return d, err
		}
		res := s.resolver.Resolve(ctx, matching.Candidate{Name: ref.Name, NaturalKey: ref.NaturalKey}, refs)
		if !res.Matched() {
			d.Status, d.Reason = models.StatusPending, reason(models.ReasonRelatedUnmatched)
			d.Err = res.Err(ref.Kind, ref.Name)
			return d, nil
		}
	}
	return d, nil
}

// Summary counts what Stage did
type Summary struct {
	Created   int
	Updated   int
	Unchanged int
	Statuses  map[models.ProcessingStatus]int
	Reasons   map[string]int
	Issues    int
	Decisions []Decision
}

// Tally counts decisions by status and reason
func Tally(decisions []Decision) Summary {
	sum := Summary{
		Statuses:  map[models.ProcessingStatus]int{},
		Reasons:   map[string]int{},
		Decisions: decisions,
	}
	for _, d := range decisions {
		sum.Statuses[d.Status]++
		if d.Reason != nil {
			sum.Reasons[*d.Reason]++
		}
		sum.Issues += len(d.Record.FieldIssues)
	}
	return sum
}

// Stage evaluates recs and upserts them into batch in one transaction. Rows already validated or
// rejected by an earlier run keep their status.
func (s *Service) Stage(ctx context.Context, batch string, recs []models.NormalizedRecord) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Service.Stage")
	defer span.End()

	decisions, err := s.Evaluate(ctx, recs)
	if err != nil {
		return Summary{}, err
	}
	return s.Persist(ctx, batch, decisions)
}

// Persist writes already evaluated decisions
func (s *Service) Persist(ctx context.Context, batch string, decisions []Decision) (Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Service.Persist")
	defer span.End()

	sum := Tally(decisions)
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		for _, d := range decisions {
			row := newRow(batch, d)
			outcome, err := s.store.UpsertStaging(ctx, row)
			if err != nil {
				return ferrors.FromDB("staging_records", err)
			}
			switch outcome {
			case models.StageCreated:
				sum.Created++
			case models.StageUpdated:
				sum.Updated++
			default:
				sum.Unchanged++
			}
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.WithContext(ctx).WithError(err).WithField("batch", batch).Error("Failed to stage records")
		return Summary{}, err
	}

	for _, d := range decisions {
		metrics.RecordsStaged.WithLabelValues(string(d.Record.EntityKind), string(d.Status)).Inc()
		for _, issue := range d.Record.FieldIssues {
			metrics.FieldIssues.WithLabelValues(issue.Field).Inc()
		}
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"batch":     batch,
		"created":   sum.Created,
		"updated":   sum.Updated,
		"unchanged": sum.Unchanged,
		"validated": sum.Statuses[models.StatusValidated],
		"pending":   sum.Statuses[models.StatusPending],
		"rejected":  sum.Statuses[models.StatusRejected],
	}).Info("Staged records")
	return sum, nil
}

func newRow(batch string, d Decision) *models.StagingRow {
	rec := d.Record
	raw := map[string]string{}
	index := 0
	if rec.Raw != nil {
		raw = rec.Raw.Fields
		index = rec.Raw.Index
	}
	return &models.StagingRow{
		EntityKind:       rec.EntityKind,
		SourceBatch:      batch,
		SourceKey:        d.SourceKey,
		SourceIndex:      index,
		OriginalName:     rec.OriginalName,
		RawData:          database.NewJSONB(raw),
		Normalized:       database.NewJSONB(rec),
		ProcessingStatus: d.Status,
		StatusReason:     d.Reason,
		MatchedEntityID:  d.MatchedEntityID,
	}
}

// Transition reports a manual status change
type Transition struct {
	Moved   int64
	Skipped int64
}

// Validate moves pending rows to validated. Rows in any other status are skipped.
func (s *Service) Validate(ctx context.Context, ids []int64) (Transition, error) {
	return s.transition(ctx, ids, models.StatusValidated, nil)
}

// Reject moves pending rows to rejected with reason, defaulting to manual.
func (s *Service) Reject(ctx context.Context, ids []int64, why string) (Transition, error) {
	if why == "" {
		why = models.ReasonManual
	}
	return s.transition(ctx, ids, models.StatusRejected, &why)
}

func (s *Service) transition(ctx context.Context, ids []int64, status models.ProcessingStatus, why *string) (Transition, error) {
	ctx, span := tracing.StartSpan(ctx, "staging.Service.transition")
	defer span.End()

	if len(ids) == 0 {
		return Transition{}, nil
	}

	var moved int64
	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		moved, err = s.store.TransitionStatus(ctx, ids, status, why)
		return ferrors.FromDB("staging_records", err)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return Transition{}, err
	}

	t := Transition{Moved: moved, Skipped: int64(len(unique(ids))) - moved}
	s.logger.WithContext(ctx).WithFields(map[string]any{
		"status":  status,
		"moved":   t.Moved,
		"skipped": t.Skipped,
	}).Info("Transitioned staging rows")
	return t, nil
}

func unique(ids []int64) map[int64]struct{} {
	out := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func reason(r string) *string {
	return &r
}
