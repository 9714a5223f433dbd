package workers

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	apphttp "followup_backend/internal/http"
	"followup_backend/internal/workers/handler"
	"followup_backend/internal/workers/repository"
	"followup_backend/platform/logger"
)

// Module wires the run repository, the registry and the operational API.
type Module struct {
	runs     *repository.Repository
	registry *Registry
	handler  *handler.Handler
}

// NewModule creates and initializes the workers module. Workers are
// registered by the composition root after construction.
func NewModule(pool *pgxpool.Pool, log *logger.Logger, defaultTimeout time.Duration) *Module {
	runs := repository.New(pool)
	registry := NewRegistry(runs, log, defaultTimeout)

	return &Module{
		runs:     runs,
		registry: registry,
		handler:  handler.New(registry, runs),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "workers"
}

// RegisterRoutes mounts the worker routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected, ctx.Admin)
}

// Registry returns the worker registry.
func (m *Module) Registry() *Registry {
	return m.registry
}

// Runs returns the run repository.
func (m *Module) Runs() *repository.Repository {
	return m.runs
}
