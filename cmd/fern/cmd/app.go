package cmd

import (
	"context"
	"time"

	"github.com/Ramsey-B/fern/internal/repositories/analytics"
	"github.com/Ramsey-B/fern/internal/repositories/auditlog"
	"github.com/Ramsey-B/fern/internal/repositories/canonical"
	"github.com/Ramsey-B/fern/internal/repositories/importrun"
	"github.com/Ramsey-B/fern/internal/repositories/relationship"
	"github.com/Ramsey-B/fern/internal/repositories/stagedrecord"
	"github.com/Ramsey-B/fern/pkg/audit"
	"github.com/Ramsey-B/fern/pkg/database"
	ferrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/pipeline"
	"github.com/Ramsey-B/fern/pkg/promotion"
	"github.com/Ramsey-B/fern/pkg/staging"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/store"
)

const shutdownTimeout = 10 * time.Second

// app holds everything one command invocation needs. It is built per run and closed on exit.
type app struct {
	db        database.DB
	store     *store.Composite
	recorder  *audit.Recorder
	stager    *staging.Service
	engine    *promotion.Engine
	pipeline  *pipeline.Pipeline
	analytics store.AnalyticsStore

	boot    *startup.Startup
	closers []func(ctx context.Context) error
}

func newApp(ctx context.Context) (*app, error) {
	a := &app{boot: startup.NewStartup(logger, cfg.StartupMaxAttempts)}

	shutdownTracing, err := setupTracing(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	db, err := database.Open(database.Options{
		DSN:             cfg.Database.DSN(),
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, a.abort(ferrors.NewConnectivityError("postgres", err))
	}
	a.db = db
	// the pool is released by Close whether or not the ping ever succeeded
	a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	a.boot.AddDependency(startup.Func{
		Name: "postgres",
		StartFn: func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
	})

	auditRepo := auditlog.NewRepository(db, logger)
	recorder := audit.NewRecorder(db, auditRepo, logger)
	a.recorder = recorder
	a.analytics = analytics.NewRepository(db, logger)
	a.store = &store.Composite{
		Transactor:        recorder,
		StagingStore:      stagedrecord.NewRepository(db, logger),
		EntityStore:       canonical.NewRepository(db, logger),
		RelationshipStore: relationship.NewRepository(db, logger),
		AuditStore:        auditRepo,
		AnalyticsStore:    a.analytics,
		ImportRunStore:    importrun.NewRepository(db, logger),
	}

	resolver := matching.NewResolver(logger).WithMinSubstringLen(cfg.Matching.MinSubstringLen)
	a.stager = staging.NewService(a.store, resolver, logger)
	a.engine = promotion.NewEngine(a.store, resolver, logger)
	a.pipeline = pipeline.New(a.store, a.stager, a.engine, pipeline.Config{
		Budget:         cfg.Pipeline.BatchTimeout,
		Concurrency:    cfg.Pipeline.Concurrency,
		Bounds:         &cfg.Bounds,
		Categories:     normalizers.NewCategoryMapper(normalizers.DefaultCategories, normalizers.CatchAll),
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
	}, logger).WithViewOpener(openView)

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, logger)
		emitter := events.NewEmitter(producer, logger)
		a.engine.WithObserver(emitter)
		a.pipeline.WithObserver(emitter)
		a.closers = append(a.closers, func(context.Context) error { return producer.Close() })
	}

	if cfg.Graph.Enabled() {
		client, err := graph.NewClient(cfg.Graph, logger)
		if err != nil {
			return nil, a.abort(ferrors.NewConnectivityError("graph", err))
		}
		a.closers = append(a.closers, client.Close)
		a.boot.AddDependency(startup.Func{
			Name:    "graph",
			StartFn: client.VerifyConnectivity,
		})
		a.engine.WithObserver(graph.NewProjector(client, logger))
	}

	if err := a.boot.Start(ctx); err != nil {
		return nil, a.abort(ferrors.NewConnectivityError("startup", err))
	}
	return a, nil
}

// openView connects to the database behind a view source. The pool is small: a view is read once.
func openView(ctx context.Context, dsn string) (database.Executor, func() error, error) {
	db, err := database.Open(database.Options{DSN: dsn, MaxOpenConns: 2}, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, db.Close, nil
}

// Close releases every dependency. The command context may already be cancelled.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.WithError(err).Warn("Failed to release dependency")
		}
	}
	if err := a.boot.Stop(ctx); err != nil {
		logger.WithError(err).Warn("Failed to stop dependencies")
	}
}

// abort releases whatever newApp acquired so far and returns err.
func (a *app) abort(err error) error {
	a.Close()
	return err
}

func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
