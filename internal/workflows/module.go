// Package workflows provides the follow-up workflow bounded context: trigger
// instantiation from change-feed events and the execution engine that walks
// instances through their delayed, conditional steps.
package workflows

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"followup_backend/internal/entities"
	"followup_backend/internal/events"
	apphttp "followup_backend/internal/http"
	"followup_backend/internal/workflows/handler"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/config"
	"followup_backend/platform/logger"
	"followup_backend/platform/validator"
)

// Module wires the workflow repository, definition cache, trigger layer and
// execution engine.
type Module struct {
	repo    *repository.Repository
	defs    *DefinitionCache
	trigger *Trigger
	engine  *Engine
	handler *handler.Handler
}

// NewModule creates and initializes the workflows module. The trigger is
// subscribed to the change feed immediately; the engine does not run until
// Start is called.
func NewModule(pool *pgxpool.Pool, entitiesRepo *entities.Repository, bus events.Bus, dispatcher Dispatcher, val *validator.Validator, cfg *config.Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	defs := NewDefinitionCache(repo, log)

	trigger := NewTrigger(defs, repo, log)
	trigger.Subscribe(bus)

	executor := NewMessageExecutor(entitiesRepo, dispatcher, log)
	engine := NewEngine(repo, defs, entitiesRepo, executor, log,
		cfg.GetEngineTickInterval(), cfg.GetEngineBatchSize())

	return &Module{
		repo:    repo,
		defs:    defs,
		trigger: trigger,
		engine:  engine,
		handler: handler.New(repo, val),
	}
}

// RegisterRoutes mounts the workflow routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/workflows"))
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "workflows"
}

// Start loads definitions and launches the execution engine.
func (m *Module) Start(ctx context.Context) error {
	if err := m.defs.Reload(ctx); err != nil {
		return err
	}
	m.engine.Start(ctx)
	return nil
}

// Stop shuts down the execution engine.
func (m *Module) Stop() {
	m.engine.Stop()
}

// Repository returns the workflow store for the HTTP layer.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}

// Engine returns the execution engine, used by tests and operational tooling.
func (m *Module) Engine() *Engine {
	return m.engine
}
