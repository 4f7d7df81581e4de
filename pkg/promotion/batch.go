package promotion

import (
	"context"
	"sort"

	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// batch accumulates what one promotion run resolved: candidate catalogs per kind,
// the relationship pairs each row wants, and which rows can be marked promoted.
type batch struct {
	store      Store
	catalogs   map[models.EntityKind][]matching.Candidate
	desired    map[models.RelationshipKind]map[models.Pair][]int64
	promotable map[int64]int64
	blocked    map[int64]bool
}

func newBatch(st Store) *batch {
	return &batch{
		store:      st,
		catalogs:   map[models.EntityKind][]matching.Candidate{},
		desired:    map[models.RelationshipKind]map[models.Pair][]int64{},
		promotable: map[int64]int64{},
		blocked:    map[int64]bool{},
	}
}

func (b *batch) candidates(ctx context.Context, kind models.EntityKind) ([]matching.Candidate, error) {
	if c, ok := b.catalogs[kind]; ok {
		return c, nil
	}
	entities, err := b.store.ListEntities(ctx, kind)
	if err != nil {
		return nil, err
	}
	b.catalogs[kind] = matching.FromEntities(entities)
	return b.catalogs[kind], nil
}

// remember keeps a loaded catalog current with entities created during the run
func (b *batch) remember(entity models.CanonicalEntity, outcome Outcome) {
	catalog, ok := b.catalogs[entity.Kind]
	if !ok {
		return
	}
	if outcome == OutcomeCreated {
		b.catalogs[entity.Kind] = append(catalog, matching.FromEntity(entity))
		return
	}
	for i := range catalog {
		if catalog[i].ID == entity.ID {
			catalog[i] = matching.FromEntity(entity)
			return
		}
	}
}

// desire records that row wants a link between the two entities, in whichever direction the junction stores it.
func (b *batch) desire(rowID int64, aKind models.EntityKind, aID int64, bKind models.EntityKind, bID int64) {
	rel, swap, ok := relationshipBetween(aKind, bKind)
	if !ok {
		return
	}
	pair := models.Pair{LeftID: aID, RightID: bID}
	if swap {
		pair = models.Pair{LeftID: bID, RightID: aID}
	}
	if b.desired[rel] == nil {
		b.desired[rel] = map[models.Pair][]int64{}
	}
	b.desired[rel][pair] = append(b.desired[rel][pair], rowID)
}

func (b *batch) ready(rowID, entityID int64) {
	b.promotable[rowID] = entityID
}

func (b *batch) readyRows() []int64 {
	ids := make([]int64, 0, len(b.promotable))
	for id := range b.promotable {
		if !b.blocked[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func relationshipBetween(a, b models.EntityKind) (models.RelationshipKind, bool, bool) {
	for _, rel := range models.RelationshipKinds() {
		if rel.Left() == a && rel.Right() == b {
			return rel, false, true
		}
		if rel.Left() == b && rel.Right() == a {
			return rel, true, true
		}
	}
	return "", false, false
}

// insertDelta diffs the desired pairs against the stored ones and inserts only the missing pairs,
// one transaction per left-hand entity. Nothing is ever deleted here.
func (e *Engine) insertDelta(ctx context.Context, b *batch, summary *Summary) error {
	for _, rel := range models.RelationshipKinds() {
		desired := b.desired[rel]
		if len(desired) == 0 {
			continue
		}

		stored, err := e.store.ListPairs(ctx, rel)
		if err != nil {
			return ferrors.FromDB(rel.Table(), err)
		}
		existing := make(map[models.Pair]bool, len(stored))
		for _, r := range stored {
			existing[r.Pair()] = true
		}

		groups := map[int64][]models.Pair{}
		for pair := range desired {
			if !existing[pair] {
				groups[pair.LeftID] = append(groups[pair.LeftID], pair)
			}
		}

		lefts := make([]int64, 0, len(groups))
		for id := range groups {
			lefts = append(lefts, id)
		}
		sort.Slice(lefts, func(i, j int) bool { return lefts[i] < lefts[j] })

		for _, left := range lefts {
			pairs := groups[left]
			sort.Slice(pairs, func(i, j int) bool { return pairs[i].RightID < pairs[j].RightID })

			var inserted int64
			err := e.store.WithinTx(ctx, func(ctx context.Context) error {
				n, err := e.store.InsertPairs(ctx, rel, pairs)
				inserted = n
				return err
			})
			if err != nil {
				err = ferrors.FromDB(rel.Table(), err)
				if ferrors.IsFatal(err) {
					return err
				}
				e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
					"relationship_kind": rel,
					"left_id":           left,
					"pairs":             len(pairs),
				}).Error("Failed to insert relationship pairs")
				for _, pair := range pairs {
					for _, rowID := range desired[pair] {
						b.blocked[rowID] = true
					}
				}
				summary.Failures = append(summary.Failures, Failure{
					Name:    string(rel),
					Kind:    ferrors.Kind(err),
					Message: err.Error(),
				})
				continue
			}

			summary.RelationshipsInserted += inserted
			metrics.RelationshipsInserted.WithLabelValues(string(rel)).Add(float64(inserted))
			e.notifyPairs(ctx, rel, pairs)
		}
	}
	return nil
}
