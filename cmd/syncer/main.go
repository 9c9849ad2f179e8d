package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"catalog_sync/internal/api"
	"catalog_sync/internal/config"
	"catalog_sync/internal/credential"
	"catalog_sync/internal/domain"
	"catalog_sync/internal/metrics"
	"catalog_sync/internal/publisher"
	"catalog_sync/internal/scheduler"
	"catalog_sync/internal/service"
	"catalog_sync/internal/sink"
	"catalog_sync/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single pull round and exit")
	only := flag.String("platform", "", "with -once, pull only this platform")
	migrateOnly := flag.Bool("migrate", false, "apply database migrations and exit")
	authorizePlatform := flag.String("authorize", "", "print the consent URL of this platform, or store its tokens when -code is set, and exit")
	authCode := flag.String("code", "", "with -authorize, the code from the consent redirect")
	redirect := flag.String("redirect", "", "with -authorize, where the platform sends the seller after consent")
	flag.Parse()

	logger := setupLogger("info")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = setupLogger(cfg.LogLevel)

	if err := postgres.Migrate(cfg.Database.DSN()); err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrated")
	if *migrateOnly {
		return
	}

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	m := metrics.New()

	if *authorizePlatform != "" {
		auth, err := newAuthorizer(cfg.Platforms, *authorizePlatform, logger)
		if err != nil {
			logger.Error("failed to configure authorization", "error", err)
			os.Exit(1)
		}
		store, err := newCredentialStore(ctx, cfg, db, nil, m, logger)
		if err != nil {
			logger.Error("failed to set up credentials", "error", err)
			os.Exit(1)
		}
		if err := authorize(ctx, os.Stdout, auth, store, *authorizePlatform, *redirect, *authCode, logger); err != nil {
			logger.Error("authorization failed", "platform", *authorizePlatform, "error", err)
			os.Exit(1)
		}
		return
	}

	platforms, err := buildPlatforms(cfg.Platforms, logger)
	if err != nil {
		logger.Error("failed to configure platforms", "error", err)
		os.Exit(1)
	}
	if len(platforms) == 0 {
		logger.Error("no platform is configured")
		os.Exit(1)
	}

	tokens, err := setupCredentials(ctx, cfg, db, platforms, m, logger)
	if err != nil {
		logger.Error("failed to set up credentials", "error", err)
		os.Exit(1)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer rabbitMQ.Close()
		pub = rabbitMQ
	} else {
		logger.Info("rabbitmq not configured, pull reports will not be published")
	}

	checkpointStore := postgres.NewCheckpointStore(db)
	pullRunStore := postgres.NewPullRunStore(db)

	deps := service.Deps{
		Tokens: tokens,
		Sink: sink.New(postgres.NewProductStore(db), sink.Config{
			CollapseRatio: cfg.Quality.CollapseRatio,
			MinBaseline:   cfg.Quality.MinBaseline,
			FailOn:        violationKinds(cfg.Quality.FailOn),
		}, logger),
		Checkpoints: checkpointStore,
		Runs:        pullRunStore,
		TxManager:   postgres.NewTransactionManager(db),
		Publisher:   pub,
		Metrics:     m,
	}
	retry := service.RetryPolicy{
		MaxAttempts:         cfg.Retry.MaxAttempts,
		InitialBackoff:      cfg.Retry.InitialBackoff,
		MaxBackoff:          cfg.Retry.MaxBackoff,
		MaxRateLimitRetries: *cfg.Retry.MaxRateLimitRetries,
		DefaultRetryAfter:   cfg.Retry.DefaultRetryAfter,
	}

	pullers := make([]service.Puller, 0, len(platforms))
	for _, p := range platforms {
		pullers = append(pullers, service.NewCoordinator(p.adapter, p.normalizer, deps, retry, logger))
	}
	runner := service.NewRunner(cfg.Sync.PullTimeout, logger, pullers...)

	if *once {
		os.Exit(runOnce(ctx, runner, *only, logger))
	}

	logger.Info("starting catalog syncer",
		"platforms", runner.Platforms(),
		"interval", cfg.Sync.Interval,
		"http_addr", cfg.HTTP.Addr,
	)

	server := api.NewServer(ctx, runner, pullRunStore, checkpointStore, m.Handler(), logger)
	sched := scheduler.NewScheduler(runner, cfg.Sync.Interval, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.HTTP.Addr) })
	g.Go(func() error { return sched.Start(gctx) })

	err = g.Wait()
	runner.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("syncer stopped with error", "error", err)
		os.Exit(1)
	}
}

func setupCredentials(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	platforms []platform,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*credential.Store, error) {
	refreshers := make(map[string]credential.Refresher, len(platforms))
	seeds := make([]domain.Credential, 0, len(platforms))
	for _, p := range platforms {
		refreshers[p.adapter.Platform()] = p.refresher
		seeds = append(seeds, p.seed)
	}

	store, err := newCredentialStore(ctx, cfg, db, refreshers, m, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Seed(ctx, seeds); err != nil {
		return nil, err
	}
	return store, nil
}

func newCredentialStore(
	ctx context.Context,
	cfg *config.Config,
	db *sqlx.DB,
	refreshers map[string]credential.Refresher,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*credential.Store, error) {
	var repo credential.Repository
	switch cfg.Credentials.Backend {
	case "envfile":
		repo = credential.NewEnvFileRepository(cfg.Credentials.OverlayPath)
	default:
		repo = postgres.NewCredentialStore(db)
	}

	opts := []credential.Option{
		credential.WithSafetyMargin(cfg.Credentials.SafetyMargin),
		credential.WithMetrics(m),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		opts = append(opts, credential.WithLocker(credential.NewRedisLocker(rdb, cfg.Redis.LockTTL)))
		logger.Info("using redis refresh lock", "addr", cfg.Redis.Addr)
	}

	return credential.NewStore(repo, refreshers, logger, opts...), nil
}

func runOnce(ctx context.Context, runner *service.Runner, only string, logger *slog.Logger) int {
	var (
		reports []*domain.PullReport
		err     error
	)
	if only != "" {
		var report *domain.PullReport
		report, err = runner.RunPlatform(ctx, only)
		if report != nil {
			reports = append(reports, report)
		}
	} else {
		reports, err = runner.RunAll(ctx)
	}

	for _, report := range reports {
		logger.Info("pull finished",
			"platform", report.Platform,
			"outcome", report.Outcome(),
			"loaded", report.RecordsLoaded,
			"dropped", report.RecordsDropped,
		)
	}
	if err != nil {
		logger.Error("pull failed", "error", err)
		return 1
	}
	return 0
}

func violationKinds(names []string) []domain.ViolationKind {
	kinds := make([]domain.ViolationKind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, domain.ViolationKind(n))
	}
	return kinds
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(handler)
}
