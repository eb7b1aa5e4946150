package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"carbon-scribe/verification-service/internal/analysis"
	"carbon-scribe/verification-service/internal/audit"
	"carbon-scribe/verification-service/internal/config"
	"carbon-scribe/verification-service/internal/ledger"
	"carbon-scribe/verification-service/internal/notifications"
	"carbon-scribe/verification-service/internal/notifications/websocket"
	"carbon-scribe/verification-service/internal/review"
	"carbon-scribe/verification-service/internal/scheduler"
	"carbon-scribe/verification-service/internal/store"
	"carbon-scribe/verification-service/internal/verification"
	"carbon-scribe/verification-service/pkg/geospatial"
	"carbon-scribe/verification-service/pkg/storage"
)

// app holds every wired component and the resources to release on shutdown
type app struct {
	config     *config.Config
	logger     *zap.Logger
	store      *store.MongoStore
	scheduler  *scheduler.Scheduler
	dispatcher *verification.Dispatcher
	progress   *websocket.Manager
	archive    *audit.Archive
	reviews    review.Repository
	ledger     *ledger.Repository
	closers    []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	a := &app{config: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// Submission store
	client, err := store.Connect(ctx, cfg.Mongo.URI)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = client.Disconnect(context.Background()) })
	a.store = store.NewMongoStore(client.Database(cfg.Mongo.Database), logger.Named("store"))
	if err := a.store.EnsureIndexes(ctx); err != nil {
		return nil, err
	}

	// Reward ledger
	db, err := ledger.Open(cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.MaxLifetime.Std())
		a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	}
	a.ledger = ledger.NewRepository(db)
	if err := a.ledger.AutoMigrate(); err != nil {
		return nil, err
	}

	// Review queue
	reviewDB, err := sqlx.Connect("postgres", cfg.Database.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect review database: %w", err)
	}
	a.closers = append(a.closers, func() { _ = reviewDB.Close() })
	if err := review.EnsureSchema(ctx, reviewDB); err != nil {
		return nil, err
	}
	a.reviews = review.NewRepository(reviewDB)
	var finalizers []scheduler.Finalizer

	// Progress sinks
	a.progress = websocket.NewManager(logger.Named("progress"))
	a.closers = append(a.closers, a.progress.Close)
	sinks := []verification.Observer{a.progress}

	if cfg.AWS.ArchiveBucket != "" || cfg.AWS.StatusTopicARN != "" {
		awsCfg, err := storage.LoadAWSConfig(ctx, storage.AWSOptions{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		if cfg.AWS.ArchiveBucket != "" {
			a.archive = audit.NewArchive(storage.NewS3Client(awsCfg, cfg.AWS.Endpoint), cfg.AWS.ArchiveBucket, logger.Named("archive"))
			finalizers = append(finalizers, a.archive)
		}
		if cfg.AWS.StatusTopicARN != "" {
			sinks = append(sinks, notifications.NewPublisher(notifications.NewSNSClient(awsCfg), cfg.AWS.StatusTopicARN, logger.Named("sns")))
		}
	}

	if len(cfg.Search.Addresses) > 0 {
		es, err := audit.NewElasticsearchClient(cfg.Search.Addresses, cfg.Search.Username, cfg.Search.Password)
		if err != nil {
			return nil, err
		}
		indexer := audit.NewIndexer(es, cfg.Search.Index, logger.Named("search"))
		if err := indexer.EnsureIndex(ctx); err != nil {
			return nil, err
		}
		finalizers = append(finalizers, indexer)
	}

	a.dispatcher = verification.NewDispatcher(logger.Named("events"), 1024, sinks...)
	a.closers = append(a.closers, a.dispatcher.Close)

	// Verification engine
	pipeline, err := buildPipeline(ctx, cfg, a.dispatcher, logger)
	if err != nil {
		return nil, err
	}

	opts := []scheduler.Option{
		scheduler.WithFinalizers(finalizers...),
		scheduler.WithReviewRouter(review.NewRouter(a.reviews, logger.Named("review"))),
		scheduler.WithObserver(a.dispatcher),
	}
	if cfg.Redis.Addr != "" {
		rdb := scheduler.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		opts = append(opts, scheduler.WithLocker(scheduler.NewRedisLocker(rdb, cfg.Redis.KeyPrefix)))
	}

	a.scheduler, err = scheduler.New(schedulerConfig(cfg), a.store, pipeline, a.ledger, logger.Named("scheduler"), opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func buildPipeline(ctx context.Context, cfg *config.Config, observer verification.Observer, logger *zap.Logger) (*verification.Pipeline, error) {
	rewards := verification.DefaultRewardTable()
	if cfg.Rewards.PolicyFile != "" {
		var err error
		if rewards, err = verification.LoadRewardTable(cfg.Rewards.PolicyFile); err != nil {
			return nil, err
		}
	}

	var zones verification.ZoneLocator
	if cfg.Geospatial.ZonesFile != "" {
		catalog, err := geospatial.LoadZones(cfg.Geospatial.ZonesFile)
		if err != nil {
			return nil, err
		}
		logger.Info("Protected zones loaded", zap.Int("zones", len(catalog.Zones())))
		zones = catalog
	}

	analyzer, err := analysis.NewGeminiAnalyzer(ctx, analysis.Config{
		APIKey:            cfg.Analysis.APIKey,
		Model:             cfg.Analysis.Model,
		Temperature:       cfg.Analysis.Temperature,
		RequestsPerSecond: cfg.Analysis.RequestsPerSecond,
		Burst:             cfg.Analysis.Burst,
	}, logger.Named("analysis"))
	if err != nil {
		return nil, err
	}

	specs := verification.DefaultSpecs(rewards)
	for i := range specs {
		specs[i].Synthesize = cfg.Analysis.Synthesis
	}

	task := verification.NewAnalysisTask(analyzer, zones, observer, cfg.Analysis.TaskTimeout.Std(), logger.Named("task"))
	return verification.NewPipeline(task, specs, observer, logger.Named("pipeline")), nil
}

func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Kinds: map[verification.Kind]scheduler.KindConfig{
			verification.KindComplaint:  {Spec: cfg.Scheduler.Complaints.Spec, BatchSize: cfg.Scheduler.Complaints.BatchSize},
			verification.KindPlantation: {Spec: cfg.Scheduler.Plantations.Spec, BatchSize: cfg.Scheduler.Plantations.BatchSize},
		},
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		LockTTL:     cfg.Scheduler.LockTTL.Std(),
	}
}
