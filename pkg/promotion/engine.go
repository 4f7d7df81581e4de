package promotion

import (
	"context"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Store is the persistence the engine needs
type Store interface {
	store.Transactor
	store.StagingStore
	store.EntityStore
	store.RelationshipStore
}

// Observer is told about committed changes. Observer errors are logged and never fail a run.
type Observer interface {
	EntityChanged(ctx context.Context, entity models.CanonicalEntity, outcome Outcome) error
	PairsInserted(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) error
}

// Options for a promotion run
type Options struct {
	// Kind limits the run to one entity kind. Empty means all kinds.
	Kind models.EntityKind
	// All re-promotes validated rows that were already promoted
	All bool
	// CollapseDuplicates runs Collapse for every affected kind before upserting
	CollapseDuplicates bool
}

// Engine moves validated staging rows into the production tables
type Engine struct {
	store     Store
	resolver  *matching.Resolver
	logger    ectologger.Logger
	observers []Observer
	now       func() time.Time
}

func NewEngine(st Store, resolver *matching.Resolver, logger ectologger.Logger) *Engine {
	return &Engine{
		store:    st,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

func (e *Engine) WithObserver(o Observer) *Engine {
	if o != nil {
		e.observers = append(e.observers, o)
	}
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// kindOrder promotes facilities and specialties before the professionals that reference them
var kindOrder = map[models.EntityKind]int{
	models.EntityFacility:     0,
	models.EntitySpecialty:    1,
	models.EntityProfessional: 2,
}

// Promote upserts every validated row, then inserts the relationship delta for the whole batch.
// Row failures are isolated; only connectivity failures and an exhausted budget abort the run.
func (e *Engine) Promote(ctx context.Context, opts Options) (*Summary, error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.Engine.Promote")
	defer span.End()

	summary := &Summary{}

	if opts.CollapseDuplicates {
		summary.Collapse = &CollapseSummary{}
		kinds := models.EntityKinds()
		if opts.Kind != "" {
			kinds = []models.EntityKind{opts.Kind}
		}
		for _, kind := range kinds {
			cs, err := e.Collapse(ctx, kind)
			summary.Collapse.add(cs)
			if err != nil {
				tracing.RecordError(span, err)
				return summary, err
			}
		}
	}

	rows, err := e.store.ListStaging(ctx, models.StagingFilter{
		EntityKind:     opts.Kind,
		Status:         models.StatusValidated,
		UnpromotedOnly: !opts.All,
	})
	if err != nil {
		err = ferrors.FromDB("staging_records", err)
		e.logger.WithContext(ctx).WithError(err).Error("Failed to list validated staging rows")
		tracing.RecordError(span, err)
		return summary, err
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if kindOrder[rows[i].EntityKind] != kindOrder[rows[j].EntityKind] {
			return kindOrder[rows[i].EntityKind] < kindOrder[rows[j].EntityKind]
		}
		return rows[i].ID < rows[j].ID
	})

	b := newBatch(e.store)
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			tracing.RecordError(span, err)
			return summary, err
		}
		if err := e.promoteRow(ctx, row, b, summary); err != nil {
			tracing.RecordError(span, err)
			return summary, err
		}
	}

	if err := e.insertDelta(ctx, b, summary); err != nil {
		tracing.RecordError(span, err)
		return summary, err
	}

	if err := e.markPromoted(ctx, b); err != nil {
		tracing.RecordError(span, err)
		return summary, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"rows":                   len(rows),
		"created":                summary.Created,
		"updated":                summary.Updated,
		"skipped":                summary.Skipped,
		"failed":                 summary.Failed,
		"unmatched":              summary.Unmatched,
		"relationships_inserted": summary.RelationshipsInserted,
	}).Info("Promotion completed")

	return summary, nil
}

func (e *Engine) promoteRow(ctx context.Context, row models.StagingRow, b *batch, summary *Summary) error {
	rec := row.Record()
	if rec.Name == nil {
		summary.fail(row, ferrors.NewFieldNormalizationError("name", row.OriginalName, "missing name"))
		metrics.PromotedRows.WithLabelValues(string(row.EntityKind), string(OutcomeFailed)).Inc()
		return nil
	}

	// catalogs load before the row writes anything, so a failed load fails this row alone
	for _, ref := range rec.RelatedRefs {
		if ref.Kind == models.EntitySpecialty {
			continue
		}
		if _, err := b.candidates(ctx, ref.Kind); err != nil {
			err = ferrors.FromDB(ref.Kind.Table(), err)
			if ferrors.IsFatal(err) {
				return err
			}
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"staging_id": row.ID,
				"ref_kind":   ref.Kind,
				"ref_name":   ref.Name,
			}).Error("Failed to load candidates for related reference")
			summary.fail(row, err)
			metrics.PromotedRows.WithLabelValues(string(row.EntityKind), string(OutcomeFailed)).Inc()
			return nil
		}
	}

	var (
		entity      models.CanonicalEntity
		outcome     Outcome
		specialties []models.CanonicalEntity
		touched     []upserted
	)
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		touched = touched[:0]
		specialties = specialties[:0]

		var err error
		entity, outcome, err = e.upsert(ctx, rec.EntityKind, *rec.Name, rec.NaturalKey, rec.Fields())
		if err != nil {
			return err
		}
		touched = append(touched, upserted{entity, outcome})

		for _, ref := range rec.RelatedRefs {
			if ref.Kind != models.EntitySpecialty {
				continue
			}
			spec, specOutcome, err := e.upsert(ctx, models.EntitySpecialty, ref.Name, ref.NaturalKey, models.MutableFields{})
			if err != nil {
				return err
			}
			specialties = append(specialties, spec)
			touched = append(touched, upserted{spec, specOutcome})
		}
		return nil
	})
	if err != nil {
		err = ferrors.FromDB(rec.EntityKind.Table(), err)
		if ferrors.IsFatal(err) {
			return err
		}
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"staging_id": row.ID,
			"row_index":  row.SourceIndex,
			"name":       row.OriginalName,
		}).Error("Failed to promote staging row")
		summary.fail(row, err)
		metrics.PromotedRows.WithLabelValues(string(row.EntityKind), string(OutcomeFailed)).Inc()
		return nil
	}

	summary.count(outcome)
	metrics.PromotedRows.WithLabelValues(string(row.EntityKind), string(outcome)).Inc()
	for _, u := range touched {
		b.remember(u.entity, u.outcome)
		e.notifyEntity(ctx, u.entity, u.outcome)
	}

	resolved := true
	var facilities []int64
	for _, ref := range rec.RelatedRefs {
		if ref.Kind == models.EntitySpecialty {
			continue
		}
		candidates, err := b.candidates(ctx, ref.Kind)
		if err != nil {
			return ferrors.FromDB(ref.Kind.Table(), err)
		}
		res := e.resolver.Resolve(ctx, matching.Candidate{Name: ref.Name, NaturalKey: ref.NaturalKey}, candidates)
		if !res.Matched() {
			resolved = false
			summary.Unmatched++
			summary.Unresolved = append(summary.Unresolved, Unresolved{
				StagingID: row.ID,
				RowIndex:  row.SourceIndex,
				Name:      row.OriginalName,
				RefKind:   ref.Kind,
				RefName:   ref.Name,
				Ambiguous: res.Ambiguous,
			})
			continue
		}
		b.desire(row.ID, entity.Kind, entity.ID, ref.Kind, res.Match.ID)
		if ref.Kind == models.EntityFacility {
			facilities = append(facilities, res.Match.ID)
		}
	}

	for _, spec := range specialties {
		b.desire(row.ID, entity.Kind, entity.ID, models.EntitySpecialty, spec.ID)
		for _, facilityID := range facilities {
			b.desire(row.ID, models.EntityFacility, facilityID, models.EntitySpecialty, spec.ID)
		}
	}

	if resolved {
		b.ready(row.ID, entity.ID)
	}
	return nil
}

type upserted struct {
	entity  models.CanonicalEntity
	outcome Outcome
}

// upsert finds the entity by natural key, then by exact name, and inserts it when neither exists.
// Stored natural keys are never replaced; a missing one may be filled in once.
func (e *Engine) upsert(ctx context.Context, kind models.EntityKind, name string, key *string, fields models.MutableFields) (models.CanonicalEntity, Outcome, error) {
	key = models.NormalizeKey(key)
	var existing *models.CanonicalEntity
	if key != nil {
		found, err := e.store.FindByNaturalKey(ctx, kind, *key)
		if err != nil {
			return models.CanonicalEntity{}, OutcomeFailed, err
		}
		existing = found
	}

	if existing == nil {
		byName, err := e.store.FindByName(ctx, kind, name)
		if err != nil {
			return models.CanonicalEntity{}, OutcomeFailed, err
		}
		for i := range byName {
			// an entity holding a different key is a different entity with the same name
			if key == nil || byName[i].NaturalKey == nil || *byName[i].NaturalKey == *key {
				existing = &byName[i]
				break
			}
		}
	}

	if existing == nil {
		entity := models.CanonicalEntity{Kind: kind, Name: name, NaturalKey: key}
		entity.Apply(fields)
		if err := e.store.InsertEntity(ctx, &entity); err != nil {
			return models.CanonicalEntity{}, OutcomeFailed, err
		}
		return entity, OutcomeCreated, nil
	}

	existing.Kind = kind
	changed := existing.Apply(fields)
	if existing.NaturalKey == nil && key != nil {
		k := *key
		existing.NaturalKey = &k
		changed = true
	}
	if !changed {
		return *existing, OutcomeSkipped, nil
	}
	if err := e.store.UpdateEntity(ctx, existing); err != nil {
		return models.CanonicalEntity{}, OutcomeFailed, err
	}
	return *existing, OutcomeUpdated, nil
}

func (e *Engine) markPromoted(ctx context.Context, b *batch) error {
	at := e.now()
	for _, rowID := range b.readyRows() {
		if err := e.store.MarkPromoted(ctx, rowID, b.promotable[rowID], at); err != nil {
			err = ferrors.FromDB("staging_records", err)
			if ferrors.IsFatal(err) {
				return err
			}
			e.logger.WithContext(ctx).WithError(err).WithField("staging_id", rowID).Error("Failed to mark staging row promoted")
		}
	}
	return nil
}

func (e *Engine) notifyEntity(ctx context.Context, entity models.CanonicalEntity, outcome Outcome) {
	if outcome != OutcomeCreated && outcome != OutcomeUpdated {
		return
	}
	for _, o := range e.observers {
		if err := o.EntityChanged(ctx, entity, outcome); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("entity_id", entity.ID).Warn("Observer failed on entity change")
		}
	}
}

func (e *Engine) notifyPairs(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) {
	for _, o := range e.observers {
		if err := o.PairsInserted(ctx, kind, pairs); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithField("relationship_kind", kind).Warn("Observer failed on relationship insert")
		}
	}
}
