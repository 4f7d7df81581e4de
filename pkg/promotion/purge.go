package promotion

import (
	"context"
	"errors"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var ErrPurgeScope = errors.New("purge requires an entity kind and a category")

// PurgeOptions scopes an explicit cleanup. Promotion never deletes on its own.
type PurgeOptions struct {
	Kind     models.EntityKind
	Category string
	// Soft deactivates the entities instead of deleting them and their links
	Soft bool
}

// Purge removes every entity of a kind in a category, links first, in a single transaction.
func (e *Engine) Purge(ctx context.Context, opts PurgeOptions) (*PurgeSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.Engine.Purge")
	defer span.End()

	if !opts.Kind.Valid() || normalizers.Key(opts.Category) == "" {
		return nil, ErrPurgeScope
	}

	summary := &PurgeSummary{}
	err := e.store.WithinTx(ctx, func(ctx context.Context) error {
		*summary = PurgeSummary{}

		entities, err := e.store.ListEntities(ctx, opts.Kind)
		if err != nil {
			return err
		}
		want := normalizers.Key(opts.Category)
		var ids []int64
		for _, ent := range entities {
			if ent.Category != nil && normalizers.Key(*ent.Category) == want {
				ids = append(ids, ent.ID)
			}
		}
		if len(ids) == 0 {
			return nil
		}

		if opts.Soft {
			n, err := e.store.SetActive(ctx, opts.Kind, ids, false)
			summary.Deactivated = n
			return err
		}

		for _, rel := range models.RelationshipKindsFor(opts.Kind) {
			n, err := e.store.DeletePairsFor(ctx, rel, store.SideOf(rel, opts.Kind), ids)
			if err != nil {
				return err
			}
			summary.Relationships += n
		}
		n, err := e.store.DeleteEntities(ctx, opts.Kind, ids)
		summary.Entities = n
		return err
	})
	if err != nil {
		err = ferrors.FromDB(opts.Kind.Table(), err)
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"entity_kind": opts.Kind,
			"category":    opts.Category,
		}).Error("Purge failed")
		tracing.RecordError(span, err)
		return nil, err
	}

	e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_kind":   opts.Kind,
		"category":      opts.Category,
		"entities":      summary.Entities,
		"relationships": summary.Relationships,
		"deactivated":   summary.Deactivated,
	}).Info("Purge completed")
	return summary, nil
}
