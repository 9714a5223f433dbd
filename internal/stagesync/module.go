package stagesync

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"followup_backend/internal/crm"
	"followup_backend/internal/entities"
	apphttp "followup_backend/internal/http"
	"followup_backend/internal/stagesync/handler"
	"followup_backend/internal/stagesync/repository"
	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

// Module wires the relationship tracker and the stage sync worker.
type Module struct {
	repo    *repository.Repository
	stages  *Stages
	tracker *Tracker
	sync    *SyncWorker
	handler *handler.Handler
}

// NewModule creates and initializes the stage-sync module. crmClient may be
// nil when the CRM integration is not configured; the workers then skip
// external calls.
func NewModule(pool *pgxpool.Pool, entitiesRepo *entities.Repository, crmClient *crm.Client, cfg *config.Config, log *logger.Logger) *Module {
	repo := repository.New(pool)
	stages := NewStages(cfg)

	return &Module{
		repo:    repo,
		stages:  stages,
		tracker: NewTracker(crmClient, entitiesRepo, repo, stages, log),
		sync:    NewSyncWorker(repo, crmClient, stages, cfg, log),
		handler: handler.New(repo),
	}
}

// RegisterRoutes mounts the stage-sync routes.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/stagesync"))
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "stagesync"
}

// Tracker returns the relationship tracker.
func (m *Module) Tracker() *Tracker {
	return m.tracker
}

// SyncWorker returns the stage sync worker.
func (m *Module) SyncWorker() *SyncWorker {
	return m.sync
}

// Repository returns the relationship store for the HTTP layer.
func (m *Module) Repository() *repository.Repository {
	return m.repo
}
