// Package audit attributes production-table mutations to an actor. The audit_log rows themselves are
// written by the fern_audit trigger; this package stamps each transaction with the actor the trigger
// reads and queries the log back.
package audit

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ActorSetting is the transaction-local setting read by the audit trigger
const ActorSetting = "fern.actor_id"

// DefaultListLimit caps List when the filter sets no limit
const DefaultListLimit = 100

var setActorQuery = fmt.Sprintf("SELECT set_config('%s', $1, true)", ActorSetting)

type Recorder struct {
	db      database.DB
	entries store.AuditStore
	logger  ectologger.Logger
}

func NewRecorder(db database.DB, entries store.AuditStore, logger ectologger.Logger) *Recorder {
	return &Recorder{db: db, entries: entries, logger: logger}
}

// actorParam is the setting value for ctx. The trigger turns an empty setting into a NULL actor.
func actorParam(ctx context.Context) string {
	if actor := fcontext.GetActor(ctx); actor != nil {
		return *actor
	}
	return ""
}

// Begin opens a transaction carrying the actor of ctx. Joining an open transaction re-stamps it, which
// is harmless since the actor of a run never changes.
func (r *Recorder) Begin(ctx context.Context) (context.Context, database.Tx, error) {
	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return ctx, nil, ferrors.FromDB("audit_log", err)
	}
	if _, err := tx.ExecContext(ctx, setActorQuery, actorParam(ctx)); err != nil {
		_ = tx.Rollback(ctx)
		return ctx, nil, ferrors.FromDB("audit_log", err)
	}
	return ctx, tx, nil
}

// WithinTx implements store.Transactor on top of Begin
func (r *Recorder) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := tracing.StartSpan(ctx, "audit.Recorder.WithinTx")
	defer span.End()

	ctx, tx, err := r.Begin(ctx)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
	}()

	if err := fn(ctx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.logger.WithContext(ctx).WithError(rbErr).Warn("Rollback failed")
		}
		tracing.RecordError(span, err)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		tracing.RecordError(span, err)
		return ferrors.FromDB("audit_log", err)
	}
	return nil
}

// List returns the most recent entries matching filter in chronological order
func (r *Recorder) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	ctx, span := tracing.StartSpan(ctx, "audit.Recorder.List")
	defer span.End()

	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	entries, err := r.entries.ListAudit(ctx, filter)
	if err != nil {
		tracing.RecordError(span, err)
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list audit entries")
		return nil, err
	}
	return entries, nil
}
