// Package memstore is an in-memory transactional implementation of store.Store. It enforces the
// same unique and foreign key constraints as the postgres schema and writes an audit entry for every
// production-table mutation, like the audit trigger does.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
)

type txKey struct{}

type txState struct {
	actor *string
}

type state struct {
	seq         map[string]int64
	staging     map[int64]models.StagingRow
	entities    map[models.EntityKind]map[int64]models.CanonicalEntity
	pairs       map[models.RelationshipKind]map[int64]models.Relationship
	audit       []models.AuditEntry
	sessions    map[int64]models.Session
	stats       map[int64]models.UnitStat
	events      map[int64]models.Event
	performance map[int64]models.PerformanceSample
	runs        map[string]models.ImportRun
}

func newState() state {
	s := state{
		seq:         map[string]int64{},
		staging:     map[int64]models.StagingRow{},
		entities:    map[models.EntityKind]map[int64]models.CanonicalEntity{},
		pairs:       map[models.RelationshipKind]map[int64]models.Relationship{},
		sessions:    map[int64]models.Session{},
		stats:       map[int64]models.UnitStat{},
		events:      map[int64]models.Event{},
		performance: map[int64]models.PerformanceSample{},
		runs:        map[string]models.ImportRun{},
	}
	for _, k := range models.EntityKinds() {
		s.entities[k] = map[int64]models.CanonicalEntity{}
	}
	for _, k := range models.RelationshipKinds() {
		s.pairs[k] = map[int64]models.Relationship{}
	}
	return s
}

func (s state) clone() state {
	c := state{
		seq:         maps.Clone(s.seq),
		staging:     maps.Clone(s.staging),
		entities:    map[models.EntityKind]map[int64]models.CanonicalEntity{},
		pairs:       map[models.RelationshipKind]map[int64]models.Relationship{},
		audit:       append([]models.AuditEntry(nil), s.audit...),
		sessions:    maps.Clone(s.sessions),
		stats:       maps.Clone(s.stats),
		events:      maps.Clone(s.events),
		performance: maps.Clone(s.performance),
		runs:        maps.Clone(s.runs),
	}
	for k, rows := range s.entities {
		c.entities[k] = make(map[int64]models.CanonicalEntity, len(rows))
		for id, e := range rows {
			c.entities[k][id] = copyEntity(e)
		}
	}
	for k, rows := range s.pairs {
		c.pairs[k] = maps.Clone(rows)
	}
	return c
}

// Hooks let tests inject failures
type Hooks struct {
	BeforeInsertEntity func(entity *models.CanonicalEntity) error
	BeforeInsertPairs  func(kind models.RelationshipKind, pairs []models.Pair) error
	BeforeDelete       func(table string, ids []int64) error
	BeforeList         func(kind models.EntityKind) error
}

// Store is the in-memory store
type Store struct {
	mu    sync.Mutex
	txMu  sync.Mutex
	data  state
	now   func() time.Time
	Hooks Hooks
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// WithClock replaces the clock used for created_at and updated_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func (s *Store) nextID(table string) int64 {
	s.data.seq[table]++
	return s.data.seq[table]
}

// WithinTx serializes transactions and restores the previous state when fn fails.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*txState); ok {
		return fn(ctx)
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.data.clone()
	s.mu.Unlock()

	err := fn(context.WithValue(ctx, txKey{}, &txState{actor: fcontext.GetActor(ctx)}))
	if err != nil {
		s.mu.Lock()
		s.data = snapshot
		s.mu.Unlock()
	}
	return err
}

// record appends the audit entry the trigger would write. The actor is only known inside a transaction.
func (s *Store) record(ctx context.Context, table, op string, id int64) {
	var actor *string
	if tx, ok := ctx.Value(txKey{}).(*txState); ok && tx.actor != nil {
		a := *tx.actor
		actor = &a
	}
	s.data.audit = append(s.data.audit, models.AuditEntry{
		ID:        s.nextID("audit_log"),
		TableName: table,
		Operation: op,
		RecordID:  id,
		ActorID:   actor,
		CreatedAt: s.now(),
	})
}

func copyEntity(e models.CanonicalEntity) models.CanonicalEntity {
	e.Attributes = database.NewJSONB(maps.Clone(e.Attributes.Data))
	return e
}

func (s *Store) UpsertStaging(_ context.Context, row *models.StagingRow) (models.StageOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, existing := range s.data.staging {
		if existing.EntityKind != row.EntityKind || existing.SourceBatch != row.SourceBatch || existing.SourceKey != row.SourceKey {
			continue
		}
		row.ID = id
		row.CreatedAt = existing.CreatedAt
		if existing.ProcessingStatus != models.StatusPending {
			row.ProcessingStatus = existing.ProcessingStatus
			row.StatusReason = existing.StatusReason
			row.UpdatedAt = existing.UpdatedAt
			return models.StageUnchanged, nil
		}
		row.UpdatedAt = now
		row.MatchedEntityID = existing.MatchedEntityID
		row.PromotedAt = existing.PromotedAt
		s.data.staging[id] = *row
		return models.StageUpdated, nil
	}

	if row.ProcessingStatus == "" {
		row.ProcessingStatus = models.StatusPending
	}
	row.ID = s.nextID("staging_records")
	row.CreatedAt = now
	row.UpdatedAt = now
	s.data.staging[row.ID] = *row
	return models.StageCreated, nil
}

func (s *Store) ListStaging(_ context.Context, filter models.StagingFilter) ([]models.StagingRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := map[int64]bool{}
	for _, id := range filter.IDs {
		ids[id] = true
	}

	var out []models.StagingRow
	for _, row := range s.data.staging {
		switch {
		case filter.EntityKind != "" && row.EntityKind != filter.EntityKind:
		case filter.SourceBatch != "" && row.SourceBatch != filter.SourceBatch:
		case filter.Status != "" && row.ProcessingStatus != filter.Status:
		case filter.UnpromotedOnly && row.PromotedAt != nil:
		case len(ids) > 0 && !ids[row.ID]:
		default:
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) TransitionStatus(_ context.Context, ids []int64, status models.ProcessingStatus, reason *string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var moved int64
	for _, id := range ids {
		row, ok := s.data.staging[id]
		if !ok || !models.CanTransition(row.ProcessingStatus, status) {
			continue
		}
		row.ProcessingStatus = status
		row.StatusReason = reason
		row.UpdatedAt = s.now()
		s.data.staging[id] = row
		moved++
	}
	return moved, nil
}

func (s *Store) MarkPromoted(_ context.Context, id int64, entityID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.data.staging[id]
	if !ok {
		return fmt.Errorf("staging row %d not found", id)
	}
	row.MatchedEntityID = &entityID
	row.PromotedAt = &at
	s.data.staging[id] = row
	return nil
}

func (s *Store) sortedEntities(kind models.EntityKind, keep func(models.CanonicalEntity) bool) []models.CanonicalEntity {
	var out []models.CanonicalEntity
	for _, e := range s.data.entities[kind] {
		if keep == nil || keep(e) {
			out = append(out, copyEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) ListEntities(_ context.Context, kind models.EntityKind) ([]models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Hooks.BeforeList != nil {
		if err := s.Hooks.BeforeList(kind); err != nil {
			return nil, err
		}
	}
	return s.sortedEntities(kind, nil), nil
}

func (s *Store) FindByNaturalKey(_ context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := models.NormalizeKey(&key)
	if normalized == nil {
		return nil, nil
	}
	found := s.sortedEntities(kind, func(e models.CanonicalEntity) bool {
		return e.NaturalKey != nil && *e.NaturalKey == *normalized
	})
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

func (s *Store) FindByName(_ context.Context, kind models.EntityKind, name string) ([]models.CanonicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := strings.ToLower(name)
	return s.sortedEntities(kind, func(e models.CanonicalEntity) bool {
		return strings.ToLower(e.Name) == target
	}), nil
}

func (s *Store) checkNaturalKey(kind models.EntityKind, id int64, key *string) error {
	if key == nil {
		return nil
	}
	for otherID, other := range s.data.entities[kind] {
		if otherID != id && other.NaturalKey != nil && *other.NaturalKey == *key {
			return &ferrors.ConstraintViolation{
				Table:      kind.Table(),
				Constraint: kind.Table() + "_natural_key_key",
				Detail:     fmt.Sprintf("Key (natural_key)=(%s) already exists.", *key),
			}
		}
	}
	return nil
}

func (s *Store) InsertEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Hooks.BeforeInsertEntity != nil {
		if err := s.Hooks.BeforeInsertEntity(entity); err != nil {
			return err
		}
	}
	entity.NaturalKey = models.NormalizeKey(entity.NaturalKey)
	if err := s.checkNaturalKey(entity.Kind, 0, entity.NaturalKey); err != nil {
		return err
	}

	now := s.now()
	entity.ID = s.nextID(entity.Kind.Table())
	entity.Active = true
	entity.CreatedAt = now
	entity.UpdatedAt = now
	s.data.entities[entity.Kind][entity.ID] = copyEntity(*entity)
	s.record(ctx, entity.Kind.Table(), models.AuditInsert, entity.ID)
	return nil
}

func (s *Store) UpdateEntity(ctx context.Context, entity *models.CanonicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.data.entities[entity.Kind][entity.ID]
	if !ok {
		return fmt.Errorf("%s %d not found", entity.Kind, entity.ID)
	}
	entity.NaturalKey = models.NormalizeKey(entity.NaturalKey)
	if stored.NaturalKey == nil && entity.NaturalKey != nil {
		if err := s.checkNaturalKey(entity.Kind, entity.ID, entity.NaturalKey); err != nil {
			return err
		}
		stored.NaturalKey = entity.NaturalKey
	}

	stored.Category = entity.Category
	stored.Address = entity.Address
	stored.District = entity.District
	stored.Phone = entity.Phone
	stored.Hours = entity.Hours
	stored.Latitude = entity.Latitude
	stored.Longitude = entity.Longitude
	stored.Attributes = database.NewJSONB(maps.Clone(entity.Attributes.Data))
	stored.UpdatedAt = s.now()
	s.data.entities[entity.Kind][entity.ID] = stored

	entity.NaturalKey = stored.NaturalKey
	entity.CreatedAt = stored.CreatedAt
	entity.UpdatedAt = stored.UpdatedAt
	s.record(ctx, entity.Kind.Table(), models.AuditUpdate, entity.ID)
	return nil
}

func (s *Store) DeleteEntities(ctx context.Context, kind models.EntityKind, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Hooks.BeforeDelete != nil {
		if err := s.Hooks.BeforeDelete(kind.Table(), ids); err != nil {
			return 0, err
		}
	}

	for _, rel := range models.RelationshipKindsFor(kind) {
		side := store.SideOf(rel, kind)
		for _, p := range s.data.pairs[rel] {
			for _, id := range ids {
				if (side == store.SideLeft && p.LeftID == id) || (side == store.SideRight && p.RightID == id) {
					return 0, &ferrors.ConstraintViolation{
						Table:      rel.Table(),
						Constraint: rel.Table() + "_" + string(side) + "_fkey",
						Detail:     fmt.Sprintf("Key (id)=(%d) is still referenced from table %q.", id, rel.Table()),
					}
				}
			}
		}
	}

	var deleted int64
	for _, id := range ids {
		if _, ok := s.data.entities[kind][id]; !ok {
			continue
		}
		delete(s.data.entities[kind], id)
		s.record(ctx, kind.Table(), models.AuditDelete, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) SetActive(ctx context.Context, kind models.EntityKind, ids []int64, active bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed int64
	for _, id := range ids {
		e, ok := s.data.entities[kind][id]
		if !ok || e.Active == active {
			continue
		}
		e.Active = active
		e.UpdatedAt = s.now()
		s.data.entities[kind][id] = e
		s.record(ctx, kind.Table(), models.AuditUpdate, id)
		changed++
	}
	return changed, nil
}

func (s *Store) sortedPairs(kind models.RelationshipKind, keep func(models.Relationship) bool) []models.Relationship {
	var out []models.Relationship
	for _, p := range s.data.pairs[kind] {
		if keep == nil || keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) ListPairs(_ context.Context, kind models.RelationshipKind) ([]models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedPairs(kind, nil), nil
}

func (s *Store) InsertPairs(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Hooks.BeforeInsertPairs != nil {
		if err := s.Hooks.BeforeInsertPairs(kind, pairs); err != nil {
			return 0, err
		}
	}

	existing := map[models.Pair]bool{}
	for _, p := range s.data.pairs[kind] {
		existing[p.Pair()] = true
	}

	var inserted int64
	for _, p := range pairs {
		if existing[p] {
			continue
		}
		if _, ok := s.data.entities[kind.Left()][p.LeftID]; !ok {
			return inserted, &ferrors.ConstraintViolation{Table: kind.Table(), Constraint: kind.Table() + "_left_id_fkey"}
		}
		if _, ok := s.data.entities[kind.Right()][p.RightID]; !ok {
			return inserted, &ferrors.ConstraintViolation{Table: kind.Table(), Constraint: kind.Table() + "_right_id_fkey"}
		}
		rel := models.Relationship{
			ID:        s.nextID(kind.Table()),
			Kind:      kind,
			LeftID:    p.LeftID,
			RightID:   p.RightID,
			CreatedAt: s.now(),
		}
		s.data.pairs[kind][rel.ID] = rel
		existing[p] = true
		s.record(ctx, kind.Table(), models.AuditInsert, rel.ID)
		inserted++
	}
	return inserted, nil
}

func matchesSide(p models.Relationship, side store.Side, ids map[int64]bool) bool {
	if side == store.SideLeft {
		return ids[p.LeftID]
	}
	return ids[p.RightID]
}

func idSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (s *Store) ListPairsFor(_ context.Context, kind models.RelationshipKind, side store.Side, ids []int64) ([]models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := idSet(ids)
	return s.sortedPairs(kind, func(p models.Relationship) bool { return matchesSide(p, side, set) }), nil
}

func (s *Store) DeletePairsFor(ctx context.Context, kind models.RelationshipKind, side store.Side, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Hooks.BeforeDelete != nil {
		if err := s.Hooks.BeforeDelete(kind.Table(), ids); err != nil {
			return 0, err
		}
	}

	set := idSet(ids)
	var deleted int64
	for _, p := range s.sortedPairs(kind, func(p models.Relationship) bool { return matchesSide(p, side, set) }) {
		delete(s.data.pairs[kind], p.ID)
		s.record(ctx, kind.Table(), models.AuditDelete, p.ID)
		deleted++
	}
	return deleted, nil
}

func (s *Store) ListAudit(_ context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.AuditEntry
	for _, e := range s.data.audit {
		switch {
		case filter.TableName != "" && e.TableName != filter.TableName:
		case filter.RecordID != 0 && e.RecordID != filter.RecordID:
		case filter.Since != nil && e.CreatedAt.Before(*filter.Since):
		default:
			out = append(out, e)
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *Store) CreateRun(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.runs[run.ID] = *run
	return nil
}

func (s *Store) FinishRun(_ context.Context, run *models.ImportRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.runs[run.ID]; !ok {
		return fmt.Errorf("import run %s not found", run.ID)
	}
	s.data.runs[run.ID] = *run
	return nil
}

// Runs returns every recorded import run
func (s *Store) Runs() []models.ImportRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ImportRun, 0, len(s.data.runs))
	for _, r := range s.data.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}
