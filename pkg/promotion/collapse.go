package promotion

import (
	"context"
	"sort"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Collapse merges entities of kind that share a display name into the earliest one.
// Each group runs in its own transaction: the duplicates' links move to the kept entity
// and the duplicates are deleted, so no link is ever left pointing at a removed entity.
// Groups whose members carry different natural keys are left alone and counted as conflicts.
// A kept entity without a natural key takes over the one carried by a duplicate.
func (e *Engine) Collapse(ctx context.Context, kind models.EntityKind) (*CollapseSummary, error) {
	ctx, span := tracing.StartSpan(ctx, "promotion.Engine.Collapse")
	defer span.End()

	summary := &CollapseSummary{}

	entities, err := e.store.ListEntities(ctx, kind)
	if err != nil {
		err = ferrors.FromDB(kind.Table(), err)
		tracing.RecordError(span, err)
		return summary, err
	}

	for _, group := range duplicateGroups(entities) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if conflictingKeys(group) {
			summary.Conflicts++
			e.logger.WithContext(ctx).WithFields(map[string]any{
				"entity_kind": kind,
				"name":        group[0].Name,
				"members":     len(group),
			}).Warn("Skipping duplicate group with conflicting natural keys")
			continue
		}

		kept, dups := group[0], group[1:]
		adopted := kept.NaturalKey == nil && groupKey(group) != nil
		dupIDs := make([]int64, len(dups))
		for i, d := range dups {
			dupIDs[i] = d.ID
		}

		var migrated, deleted, removed int64
		err := e.store.WithinTx(ctx, func(ctx context.Context) error {
			migrated, deleted, removed = 0, 0, 0
			for _, rel := range models.RelationshipKindsFor(kind) {
				m, d, err := e.migratePairs(ctx, rel, store.SideOf(rel, kind), kept.ID, dupIDs)
				if err != nil {
					return err
				}
				migrated += m
				deleted += d
			}
			n, err := e.store.DeleteEntities(ctx, kind, dupIDs)
			removed = n
			if err != nil || !adopted {
				return err
			}
			// the key is free again once its holder is gone
			survivor := kept
			survivor.NaturalKey = groupKey(group)
			return e.store.UpdateEntity(ctx, &survivor)
		})
		if err != nil {
			err = ferrors.FromDB(kind.Table(), err)
			if ferrors.IsFatal(err) {
				tracing.RecordError(span, err)
				return summary, err
			}
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"entity_kind": kind,
				"kept_id":     kept.ID,
				"duplicates":  dupIDs,
			}).Error("Failed to collapse duplicate group")
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Name: kept.Name, Kind: ferrors.Kind(err), Message: err.Error()})
			continue
		}

		summary.Groups++
		summary.Removed += removed
		summary.PairsMigrated += migrated
		summary.PairsDeleted += deleted
		metrics.DuplicatesRemoved.WithLabelValues(string(kind)).Add(float64(removed))

		e.logger.WithContext(ctx).WithFields(map[string]any{
			"entity_kind": kind,
			"kept_id":     kept.ID,
			"removed":     removed,
			"migrated":    migrated,
			"adopted_key": adopted,
		}).Info("Collapsed duplicate group")
	}

	return summary, nil
}

// migratePairs repoints the duplicates' links at keptID, skipping links the kept entity already has.
func (e *Engine) migratePairs(ctx context.Context, rel models.RelationshipKind, side store.Side, keptID int64, dupIDs []int64) (int64, int64, error) {
	dupPairs, err := e.store.ListPairsFor(ctx, rel, side, dupIDs)
	if err != nil || len(dupPairs) == 0 {
		return 0, 0, err
	}

	keptPairs, err := e.store.ListPairsFor(ctx, rel, side, []int64{keptID})
	if err != nil {
		return 0, 0, err
	}
	have := make(map[models.Pair]bool, len(keptPairs))
	for _, r := range keptPairs {
		have[r.Pair()] = true
	}

	var moved []models.Pair
	for _, r := range dupPairs {
		p := r.Pair()
		if side == store.SideLeft {
			p.LeftID = keptID
		} else {
			p.RightID = keptID
		}
		if !have[p] {
			have[p] = true
			moved = append(moved, p)
		}
	}

	deleted, err := e.store.DeletePairsFor(ctx, rel, side, dupIDs)
	if err != nil {
		return 0, 0, err
	}
	inserted, err := e.store.InsertPairs(ctx, rel, moved)
	if err != nil {
		return 0, 0, err
	}
	return inserted, deleted, nil
}

// duplicateGroups returns groups of two or more entities sharing a name key, earliest first.
func duplicateGroups(entities []models.CanonicalEntity) [][]models.CanonicalEntity {
	byName := map[string][]models.CanonicalEntity{}
	for _, ent := range entities {
		key := models.NameKey(ent.Name)
		byName[key] = append(byName[key], ent)
	}

	var groups [][]models.CanonicalEntity
	for _, group := range byName {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			if !group[i].CreatedAt.Equal(group[j].CreatedAt) {
				return group[i].CreatedAt.Before(group[j].CreatedAt)
			}
			return group[i].ID < group[j].ID
		})
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0].ID < groups[j][0].ID })
	return groups
}

// groupKey returns the natural key carried by a member of group, if any
func groupKey(group []models.CanonicalEntity) *string {
	for _, ent := range group {
		if ent.NaturalKey != nil {
			key := *ent.NaturalKey
			return &key
		}
	}
	return nil
}

func conflictingKeys(group []models.CanonicalEntity) bool {
	var key *string
	for _, ent := range group {
		if ent.NaturalKey == nil {
			continue
		}
		if key != nil && *key != *ent.NaturalKey {
			return true
		}
		key = ent.NaturalKey
	}
	return false
}
