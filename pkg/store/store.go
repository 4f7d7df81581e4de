// Package store declares the persistence ports the pipeline components depend on.
// Postgres implementations live in internal/repositories; memstore backs the tests.
package store

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Transactor runs fn inside one transaction. Mutations made through ctx inside fn are attributed to
// the actor carried by ctx, and are all rolled back when fn returns an error.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type StagingStore interface {
	// UpsertStaging inserts a row or refreshes a pending row with the same (entity_kind, source_batch, source_key).
	// Validated and rejected rows are never modified and report StageUnchanged.
	UpsertStaging(ctx context.Context, row *models.StagingRow) (models.StageOutcome, error)
	ListStaging(ctx context.Context, filter models.StagingFilter) ([]models.StagingRow, error)
	// TransitionStatus moves pending rows to status and returns how many moved.
	TransitionStatus(ctx context.Context, ids []int64, status models.ProcessingStatus, reason *string) (int64, error)
	MarkPromoted(ctx context.Context, id int64, entityID int64, at time.Time) error
}

type EntityStore interface {
	ListEntities(ctx context.Context, kind models.EntityKind) ([]models.CanonicalEntity, error)
	FindByNaturalKey(ctx context.Context, kind models.EntityKind, key string) (*models.CanonicalEntity, error)
	// FindByName returns entities whose name equals name case-insensitively, oldest first.
	FindByName(ctx context.Context, kind models.EntityKind, name string) ([]models.CanonicalEntity, error)
	InsertEntity(ctx context.Context, entity *models.CanonicalEntity) error
	// UpdateEntity writes the mutable fields. The natural key is written only when the stored one is null.
	UpdateEntity(ctx context.Context, entity *models.CanonicalEntity) error
	DeleteEntities(ctx context.Context, kind models.EntityKind, ids []int64) (int64, error)
	SetActive(ctx context.Context, kind models.EntityKind, ids []int64, active bool) (int64, error)
}

// Side selects a junction column
type Side string

const (
	SideLeft  Side = "left_id"
	SideRight Side = "right_id"
)

// SideOf returns the junction column that references entity kind.
func SideOf(rel models.RelationshipKind, kind models.EntityKind) Side {
	if rel.Left() == kind {
		return SideLeft
	}
	return SideRight
}

type RelationshipStore interface {
	ListPairs(ctx context.Context, kind models.RelationshipKind) ([]models.Relationship, error)
	// InsertPairs inserts missing pairs and ignores existing ones. It never deletes.
	InsertPairs(ctx context.Context, kind models.RelationshipKind, pairs []models.Pair) (int64, error)
	ListPairsFor(ctx context.Context, kind models.RelationshipKind, side Side, ids []int64) ([]models.Relationship, error)
	DeletePairsFor(ctx context.Context, kind models.RelationshipKind, side Side, ids []int64) (int64, error)
}

type AuditStore interface {
	ListAudit(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
}

type AnalyticsStore interface {
	ListIdleSessions(ctx context.Context, lastSeenBefore time.Time, limit int) ([]models.Session, error)
	// SetSessionDuration writes the duration only if none is stored yet and reports whether it did.
	SetSessionDuration(ctx context.Context, id int64, seconds int64) (bool, error)
	ListUnitStatsWithoutRate(ctx context.Context, limit int) ([]models.UnitStat, error)
	// SetConversionRate writes the rate only if none is stored yet and reports whether it did.
	SetConversionRate(ctx context.Context, id int64, rate float64) (bool, error)
	DeleteOlderThan(ctx context.Context, kind models.RetentionKind, cutoff time.Time) (int64, error)
}

type ImportRunStore interface {
	CreateRun(ctx context.Context, run *models.ImportRun) error
	FinishRun(ctx context.Context, run *models.ImportRun) error
}

// Store is every port together
type Store interface {
	Transactor
	StagingStore
	EntityStore
	RelationshipStore
	AuditStore
	AnalyticsStore
	ImportRunStore
}

// Composite assembles a Store from separately built parts.
type Composite struct {
	Transactor
	StagingStore
	EntityStore
	RelationshipStore
	AuditStore
	AnalyticsStore
	ImportRunStore
}

var _ Store = (*Composite)(nil)
