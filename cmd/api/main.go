package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"followup_backend/internal/changefeed"
	"followup_backend/internal/crm"
	"followup_backend/internal/entities"
	"followup_backend/internal/events"
	"followup_backend/internal/fieldservice"
	apphttp "followup_backend/internal/http"
	"followup_backend/internal/http/router"
	"followup_backend/internal/scheduler"
	"followup_backend/internal/stagesync"
	"followup_backend/internal/workers"
	"followup_backend/internal/workflows"
	"followup_backend/migrations"
	"followup_backend/platform/config"
	"followup_backend/platform/db"
	"followup_backend/platform/logger"
	"followup_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS, ".")
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus carrying change-feed events into the workflow trigger layer
	eventBus := events.NewInMemoryBus(log)

	// Shared validator instance for dependency injection
	val := validator.New()

	dispatcher, closeDispatcher := initDispatcher(cfg, log)
	if closeDispatcher != nil {
		defer closeDispatcher()
	}

	fieldServiceClient := fieldservice.NewClient(cfg, log)
	if fieldServiceClient.Enabled() {
		log.Info("field service client initialized", "baseUrl", cfg.GetFieldServiceBaseURL())
	} else {
		log.Warn("field service API not configured; mirror worker disabled")
	}

	crmClient := crm.NewClient(cfg, log)
	if crmClient == nil {
		log.Warn("CRM API not configured; stage sync runs in local-only mode")
	}

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	entitiesRepo := entities.New(pool)
	watermarks := changefeed.NewWatermarkStore(pool)

	workflowsModule := workflows.NewModule(pool, entitiesRepo, eventBus, dispatcher, val, cfg, log)
	stageSyncModule := stagesync.NewModule(pool, entitiesRepo, crmClient, cfg, log)
	workersModule := workers.NewModule(pool, log, cfg.GetWorkerTimeout())

	detector := changefeed.NewDetector(entitiesRepo, watermarks, eventBus, log,
		cfg.GetChangePollInterval(), cfg.GetEngineBatchSize())

	if cfg.IsWorkflowsEnabled() {
		detector.Start(ctx)
		if err := workflowsModule.Start(ctx); err != nil {
			log.Error("failed to start workflows module", "error", err)
			panic("failed to start workflows module: " + err.Error())
		}
		log.Info("change detector and workflow engine started",
			"pollInterval", cfg.GetChangePollInterval(), "tickInterval", cfg.GetEngineTickInterval())
	} else {
		log.Warn("workflows disabled; change detector and engine not started")
	}

	registerWorkers(workersModule, stageSyncModule, workflowsModule, fieldServiceClient, entitiesRepo, watermarks, cfg, log)
	workersModule.Registry().Start(ctx)
	log.Info("worker registry started")

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			workflowsModule,
			stageSyncModule,
			workersModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		workersModule.Registry().Stop()
		if cfg.IsWorkflowsEnabled() {
			detector.Stop()
			workflowsModule.Stop()
		}
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// registerWorkers wires the scheduled background workers into the registry.
// Schedules come from config; a worker gated off by config is registered
// disabled so operators can still trigger or enable it over HTTP.
func registerWorkers(
	workersModule *workers.Module,
	stageSyncModule *stagesync.Module,
	workflowsModule *workflows.Module,
	fieldServiceClient *fieldservice.Client,
	entitiesRepo *entities.Repository,
	watermarks *changefeed.WatermarkStore,
	cfg *config.Config,
	log *logger.Logger,
) {
	registry := workersModule.Registry()

	register := func(w workers.Worker) {
		if err := registry.Register(w); err != nil {
			log.Error("failed to register worker", "worker", w.Name, "error", err)
			panic("failed to register worker " + w.Name + ": " + err.Error())
		}
	}

	register(workers.Worker{
		Name:     "relationship-tracker",
		Schedule: cfg.GetTrackerSchedule(),
		Enabled:  cfg.IsSyncEnabled(),
		Execute:  stageSyncModule.Tracker().Run,
	})

	register(workers.Worker{
		Name:     "stage-sync",
		Schedule: cfg.GetStageSyncSchedule(),
		Enabled:  cfg.IsSyncEnabled(),
		Execute:  stageSyncModule.SyncWorker().Run,
	})

	if fieldServiceClient.Enabled() {
		mirror := fieldservice.NewMirror(fieldServiceClient, entitiesRepo, watermarks, log)
		register(workers.Worker{
			Name:     "mirror",
			Schedule: cfg.GetMirrorSchedule(),
			Enabled:  true,
			Execute:  mirror.Sync,
		})
	}

	register(workers.NewRetentionWorker(workersModule.Runs(), workflowsModule.Repository(),
		cfg.GetRetentionSchedule(), cfg.GetWorkerRunRetention()))
}

// initDispatcher builds the asynq-backed delivery dispatcher. Without Redis
// the engine still runs; outbound actions are recorded as skipped.
func initDispatcher(cfg config.SchedulerConfig, log *logger.Logger) (workflows.Dispatcher, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; outbound message delivery disabled")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize delivery dispatcher", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
