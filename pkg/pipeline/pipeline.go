// Package pipeline runs one batch end to end: read a source, normalize, evaluate, stage and record the
// run, or promote staged rows, all inside a bounded time budget.
package pipeline

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	fcontext "github.com/Ramsey-B/fern/pkg/context"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/sources"
	"github.com/Ramsey-B/fern/pkg/staging"
	"github.com/Ramsey-B/fern/pkg/store"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrBudgetExceeded is returned when a run does not finish inside its budget
var ErrBudgetExceeded = stderrors.New("batch budget exceeded")

const (
	OperationImport  = "import"
	OperationPromote = "promote"
)

// RunObserver is told about every finished run
type RunObserver interface {
	RunCompleted(ctx context.Context, run models.ImportRun) error
}

type Config struct {
	// Budget bounds a whole run. Zero means unbounded.
	Budget      time.Duration
	Concurrency int
	Bounds      *normalizers.BoundingBox
	Categories  *normalizers.CategoryMapper
	// PushgatewayURL receives the metrics of every run when set
	PushgatewayURL string
}

type Pipeline struct {
	store     store.ImportRunStore
	staging   *staging.Service
	engine    *promotion.Engine
	openView  sources.ViewOpener
	observers []RunObserver
	cfg       Config
	logger    ectologger.Logger
	now       func() time.Time
}

func New(runs store.ImportRunStore, stager *staging.Service, engine *promotion.Engine, cfg Config, logger ectologger.Logger) *Pipeline {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Pipeline{
		store:   runs,
		staging: stager,
		engine:  engine,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// WithViewOpener enables postgres:// sources
func (p *Pipeline) WithViewOpener(open sources.ViewOpener) *Pipeline {
	p.openView = open
	return p
}

func (p *Pipeline) WithObserver(o RunObserver) *Pipeline {
	if o != nil {
		p.observers = append(p.observers, o)
	}
	return p
}

func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// ImportOptions select what to import
type ImportOptions struct {
	Source sources.Spec
	// Profile forces a column profile; empty detects one
	Profile string
	// Batch names the staging batch; defaults to the source file name or view
	Batch  string
	DryRun bool
}

// ImportResult reports an import run
type ImportResult struct {
	Run     models.ImportRun
	Format  string
	Profile string
	Batch   string
	DryRun  bool
	Read    int
	Staging staging.Summary
}

// Import reads one source and stages its records. A dry run evaluates every record but writes
// nothing, not even the run record.
func (p *Pipeline) Import(ctx context.Context, opts ImportOptions) (*ImportResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Import")
	defer span.End()

	result := &ImportResult{DryRun: opts.DryRun, Batch: batchName(opts)}
	result.Run = p.newRun(OperationImport, opts.Source.Location)
	ctx = fcontext.SetRunID(ctx, result.Run.ID)

	logger := p.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  result.Run.ID,
		"source":  opts.Source.Location,
		"dry_run": opts.DryRun,
	})

	if !opts.DryRun {
		if err := p.store.CreateRun(ctx, &result.Run); err != nil {
			err = ferrors.FromDB("import_runs", err)
			tracing.RecordError(span, err)
			return result, err
		}
	}

	err := p.withinBudget(ctx, func(ctx context.Context) error {
		return p.runImport(ctx, opts, result)
	})

	result.Run.Profile = result.Profile
	result.Run.Processed = result.Read
	result.Run.Succeeded = result.Staging.Statuses[models.StatusValidated]
	result.Run.Failed = result.Staging.Statuses[models.StatusRejected]
	p.finish(ctx, &result.Run, err, !opts.DryRun)

	if err != nil {
		tracing.RecordError(span, err)
		logger.WithError(err).WithField("kind", ferrors.Kind(err)).Error("Import failed")
		return result, err
	}
	logger.WithFields(map[string]any{
		"read":      result.Read,
		"validated": result.Staging.Statuses[models.StatusValidated],
		"pending":   result.Staging.Statuses[models.StatusPending],
		"rejected":  result.Staging.Statuses[models.StatusRejected],
	}).Info("Import completed")
	return result, nil
}

func (p *Pipeline) runImport(ctx context.Context, opts ImportOptions, result *ImportResult) error {
	reader, closeFn, err := sources.Open(ctx, opts.Source, p.openView)
	if err != nil {
		return err
	}
	defer closeFn()
	result.Format = reader.Format()

	raw, err := reader.Read(ctx)
	if err != nil {
		return err
	}
	result.Read = len(raw)
	metrics.RecordsRead.WithLabelValues(reader.Format()).Add(float64(len(raw)))

	var sample *models.RawRecord
	if len(raw) > 0 {
		sample = &raw[0]
	}
	profile, err := sources.ProfileFor(opts.Profile, reader.Format(), sample, sources.ProfileOptions{
		Bounds:     p.cfg.Bounds,
		Categories: p.cfg.Categories,
	})
	if err != nil {
		return ferrors.NewSourceFormatError(opts.Source.Location, "no column profile", err)
	}
	result.Profile = profile.Name()

	recs, err := p.normalize(ctx, profile, raw)
	if err != nil {
		return err
	}

	decisions, err := p.staging.Evaluate(ctx, recs)
	if err != nil {
		return err
	}
	if opts.DryRun {
		result.Staging = staging.Tally(decisions)
		return nil
	}

	result.Staging, err = p.staging.Persist(ctx, result.Batch, decisions)
	return err
}

// normalize runs the profile over every record in parallel. Output order matches input order.
func (p *Pipeline) normalize(ctx context.Context, profile sources.Profile, raw []models.RawRecord) ([]models.NormalizedRecord, error) {
	out := make([]models.NormalizedRecord, len(raw))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i := range raw {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = profile.Normalize(raw[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// PromoteResult reports a promotion run
type PromoteResult struct {
	Run     models.ImportRun
	Summary *promotion.Summary
}

// Promote runs the promotion engine inside the budget and records the run
func (p *Pipeline) Promote(ctx context.Context, opts promotion.Options) (*PromoteResult, error) {
	ctx, span := tracing.StartSpan(ctx, "pipeline.Pipeline.Promote")
	defer span.End()

	result := &PromoteResult{Run: p.newRun(OperationPromote, "staging_records"), Summary: &promotion.Summary{}}
	result.Run.Profile = string(opts.Kind)
	ctx = fcontext.SetRunID(ctx, result.Run.ID)

	if err := p.store.CreateRun(ctx, &result.Run); err != nil {
		err = ferrors.FromDB("import_runs", err)
		tracing.RecordError(span, err)
		return result, err
	}

	err := p.withinBudget(ctx, func(ctx context.Context) error {
		summary, err := p.engine.Promote(ctx, opts)
		if summary != nil {
			result.Summary = summary
		}
		return err
	})

	result.Run.Processed = result.Summary.Rows()
	result.Run.Succeeded = result.Summary.Created + result.Summary.Updated + result.Summary.Skipped
	result.Run.Failed = result.Summary.Failed
	p.finish(ctx, &result.Run, err, true)

	if err != nil {
		tracing.RecordError(span, err)
		p.logger.WithContext(ctx).WithError(err).WithField("run_id", result.Run.ID).Error("Promotion failed")
		return result, err
	}
	return result, nil
}

// withinBudget runs fn under the configured budget. Running out of budget is reported as
// ErrBudgetExceeded whatever error fn returned.
func (p *Pipeline) withinBudget(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.cfg.Budget <= 0 {
		return fn(ctx)
	}
	bctx, cancel := context.WithTimeout(ctx, p.cfg.Budget)
	defer cancel()

	err := fn(bctx)
	if err != nil && stderrors.Is(bctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return errors.Wrapf(ErrBudgetExceeded, "after %s: %v", p.cfg.Budget, err)
	}
	return err
}

func (p *Pipeline) newRun(operation, source string) models.ImportRun {
	return models.ImportRun{
		ID:        uuid.NewString(),
		Operation: operation,
		Source:    source,
		Status:    models.RunRunning,
		StartedAt: p.now(),
	}
}

// finish closes the run record, tells observers and pushes metrics. The run context may already be
// cancelled, so these writes use a detached one.
func (p *Pipeline) finish(ctx context.Context, run *models.ImportRun, runErr error, persist bool) {
	ctx = context.WithoutCancel(ctx)
	finished := p.now()
	run.FinishedAt = &finished
	run.Status = models.RunCompleted
	if runErr != nil {
		msg := runErr.Error()
		run.Status = models.RunFailed
		run.Error = &msg
	}

	metrics.RunDuration.WithLabelValues(run.Operation, string(run.Status)).Observe(finished.Sub(run.StartedAt).Seconds())

	if persist {
		if err := p.store.FinishRun(ctx, run); err != nil {
			p.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Error("Failed to record run")
		}
		for _, o := range p.observers {
			if err := o.RunCompleted(ctx, *run); err != nil {
				p.logger.WithContext(ctx).WithError(err).WithField("run_id", run.ID).Warn("Run observer failed")
			}
		}
	}

	if err := metrics.Push(ctx, p.cfg.PushgatewayURL, "fern_"+run.Operation); err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("Failed to push metrics")
	}
}

func batchName(opts ImportOptions) string {
	switch {
	case opts.Batch != "":
		return opts.Batch
	case sources.IsDSN(opts.Source.Location):
		if opts.Source.View != "" {
			return opts.Source.View
		}
		return sources.DefaultView
	default:
		return filepath.Base(opts.Source.Location)
	}
}
