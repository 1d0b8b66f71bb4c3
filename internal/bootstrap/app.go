// Package bootstrap wires the capture pipeline from configuration.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cassiomorais/payments-capture/internal/application/capture"
	"github.com/cassiomorais/payments-capture/internal/domain/intent"
	"github.com/cassiomorais/payments-capture/internal/domain/outbox"
	"github.com/cassiomorais/payments-capture/internal/handler"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/config"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/payments-capture/internal/infrastructure/redis"
	"github.com/cassiomorais/payments-capture/internal/infrastructure/runtime"
	"github.com/cassiomorais/payments-capture/internal/providers"
	"github.com/cassiomorais/payments-capture/internal/repository/memory"
	mongoRepo "github.com/cassiomorais/payments-capture/internal/repository/mongo"
	"github.com/cassiomorais/payments-capture/internal/repository/postgres"
	"github.com/cassiomorais/payments-capture/internal/scheduler"
	"github.com/cassiomorais/payments-capture/internal/workerpool"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config       *config.Config
	Logger       zerolog.Logger
	Metrics      *observability.Metrics
	Store        intent.Store
	Redis        *redis.Client
	Pool         *workerpool.Pool[capture.Attempt]
	Gateway      *providers.Gateway
	Orchestrator *capture.Orchestrator
	Scheduler    *scheduler.Scheduler
	Jobs         *capture.Jobs

	checks  map[string]handler.Check
	closers []func()
	fatal   chan error
}

// New loads configuration, connects the configured backends and registers
// the scheduled jobs. The scheduler is not started.
func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout).
		With().Str("service", serviceName).Str("instance_id", cfg.InstanceID).Logger()
	log.Logger = logger
	logger.Info().Str("store", cfg.Store.Driver).Msg("Starting")

	app := &App{
		Config: cfg,
		Logger: logger,
		checks: make(map[string]handler.Check),
		fatal:  make(chan error, 1),
	}

	if cfg.Observability.EnableTracing {
		tp, err := observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			app.closers = append(app.closers, func() {
				if err := observability.Shutdown(context.Background(), tp); err != nil {
					logger.Warn().Err(err).Msg("Failed to flush traces")
				}
			})
			logger.Info().Msg("Tracing enabled")
		}
	}

	app.Metrics = observability.NewMetrics(metricsNamespace, prometheus.DefaultRegisterer)
	telemetry := observability.NewPrometheusTelemetry(app.Metrics)

	if err := app.wire(ctx, telemetry); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context, telemetry observability.Telemetry) error {
	cfg := a.Config

	var (
		outboxRepo outbox.Repository
		txManager  capture.TransactionManager
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, &cfg.Database, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.checks["database"] = func(ctx context.Context) error { return pool.Ping(ctx) }

		tx := postgres.NewTxManager(pool)
		ob := postgres.NewOutboxRepository(pool)
		a.Store = postgres.NewIntentRepository(pool, tx, ob)
		outboxRepo, txManager = ob, tx
		a.Logger.Info().Msg("Connected to PostgreSQL")

	case config.DriverMongo:
		client, err := mongoRepo.Connect(ctx, &cfg.Mongo, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to mongo: %w", err)
		}
		a.closers = append(a.closers, func() { _ = mongoRepo.Disconnect(client) })
		a.checks["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }

		store := mongoRepo.NewIntentStore(client.Database(cfg.Mongo.Database).Collection(cfg.Mongo.Collection))
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure mongo indexes: %w", err)
		}
		a.Store = store
		a.Logger.Info().Msg("Connected to MongoDB")

	default:
		store := memory.NewIntentStore()
		if err := seed(ctx, store, cfg); err != nil {
			return fmt.Errorf("seed memory store: %w", err)
		}
		a.Store = store
		a.Logger.Warn().Int("seeded", cfg.Store.SeedIntents).Msg("Using in-memory store")
	}

	var (
		locker     capture.TickLocker
		publisher  *infraRedis.StreamProducer
		runtimeSrc capture.RuntimeSource
	)
	boot := runtime.Snapshot{PoolSize: cfg.Pool.MaxWorkers, CaptureCron: cfg.Capture.Cron}
	runtimeSrc = runtime.NewStaticSource(boot)

	if cfg.Redis.Enabled {
		client, err := infraRedis.NewClient(ctx, &cfg.Redis, a.Logger)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.Redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		a.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		publisher = infraRedis.NewStreamProducer(client)
		if cfg.Capture.TickLockTTL > 0 {
			locker = infraRedis.NewTickLocker(client, "capture:tick")
		}
		if cfg.Runtime.Source == config.RuntimeRedis {
			runtimeSrc = runtime.NewRedisSource(client, cfg.Runtime.KeyPrefix, boot)
		}
		a.Logger.Info().Msg("Connected to Redis")
	}

	pool, err := workerpool.New[capture.Attempt](cfg.Pool.Name, cfg.Pool.MaxWorkers, cfg.Pool.QueueSize)
	if err != nil {
		return fmt.Errorf("create worker pool: %w", err)
	}
	a.Pool = pool

	a.Gateway = providers.NewGateway(providers.GatewayConfig{
		Timeout:          cfg.Provider.Timeout,
		BreakerThreshold: cfg.Provider.CircuitBreakerThreshold,
		BreakerTimeout:   cfg.Provider.CircuitBreakerTimeout,
	}, telemetry, a.Logger,
		providers.NewMockProvider(cfg.Provider.Name,
			providers.WithLatency(cfg.Provider.Latency),
			providers.WithDeclineRate(cfg.Provider.DeclineRate),
			providers.WithTransientRate(cfg.Provider.TransientRate),
		),
	)

	opts := []capture.Option{
		capture.WithMaxAttempts(cfg.Capture.MaxAttempts),
		capture.WithOutcomeWriteTimeout(cfg.Capture.OutcomeWriteTimeout),
	}
	if publisher != nil {
		opts = append(opts, capture.WithReconcilePublisher(publisher))
	}
	a.Orchestrator = capture.NewOrchestrator(a.Store, a.Gateway, telemetry, a.Logger, opts...)

	metrics := a.Metrics
	a.Scheduler = scheduler.New(a.Logger, scheduler.WithObserver(func(name string, status scheduler.RunStatus, _ time.Duration) {
		metrics.JobRuns.WithLabelValues(name, string(status)).Inc()
	}))

	deps := capture.JobsDeps{
		Store:     a.Store,
		Orch:      a.Orchestrator,
		Pool:      pool,
		Runtime:   runtimeSrc,
		Scheduler: a.Scheduler,
		Locker:    locker,
		Telemetry: telemetry,
		Metrics:   a.Metrics,
		OnFatal:   a.reportFatal,
		Logger:    a.Logger,
	}
	if publisher != nil && outboxRepo != nil {
		deps.Outbox, deps.TX, deps.Events = outboxRepo, txManager, publisher
	}
	a.Jobs = capture.NewJobs(capture.JobsConfig{
		EligibleAge: cfg.Capture.EligibleAge,
		StuckAge:    cfg.Capture.StuckAge,
		BatchLimit:  cfg.Capture.BatchLimit,
		TickLockTTL: cfg.Capture.TickLockTTL,
	}, deps)

	return a.Jobs.Register(a.Scheduler, capture.Schedules{
		Capture:   cfg.Capture.Cron,
		Resolve:   cfg.Capture.ResolveCron,
		Resize:    cfg.Capture.ResizeCron,
		Heartbeat: cfg.Capture.HeartbeatCron,
		Monitor:   cfg.Capture.MonitorCron,
		Relay:     cfg.Capture.RelayCron,
	})
}

func (a *App) reportFatal(id uuid.UUID, err error) {
	a.Logger.Error().Err(err).Str("intent_id", id.String()).
		Bool("halt", a.Config.Capture.HaltOnInconsistency).
		Msg("Capture needs manual reconciliation")
	if !a.Config.Capture.HaltOnInconsistency {
		return
	}
	select {
	case a.fatal <- err:
	default:
	}
}

// Fatal delivers the first unrecoverable capture error when
// capture.halt_on_inconsistency is set.
func (a *App) Fatal() <-chan error {
	return a.fatal
}

// Router builds the health, metrics and admin HTTP handler.
func (a *App) Router() http.Handler {
	var admin *handler.AdminHandler
	if a.Config.Server.AdminEnabled {
		admin = handler.NewAdminHandler(a.Scheduler, a.Pool, a.Store, a.Jobs)
	}
	return handler.NewRouter(handler.RouterDeps{
		Health:  handler.NewHealthHandler(a.Scheduler.Running, a.checks),
		Admin:   admin,
		Metrics: a.Metrics,
		Server:  a.Config.Server,
	})
}

// Close releases backends in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// seed inserts demo intents old enough to be eligible on the first tick.
func seed(ctx context.Context, store *memory.IntentStore, cfg *config.Config) error {
	created := time.Now().UTC().Add(-cfg.Capture.EligibleAge - time.Minute)
	for i := 0; i < cfg.Store.SeedIntents; i++ {
		pi, err := intent.NewPaymentIntent(cfg.Provider.Name, cfg.Provider.Country,
			fmt.Sprintf("pi_seed_%04d", i),
			intent.Amount{ValueCents: int64(1000 + i), Currency: "USD"})
		if err != nil {
			return err
		}
		pi.CreatedAt, pi.UpdatedAt = created, created
		if err := store.Insert(ctx, pi); err != nil {
			return err
		}
	}
	return nil
}
