package stagesync

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/stagesync/repository"
	"followup_backend/platform/config"
	"followup_backend/platform/logger"
)

// Install/service business units are matched by name when hunting for a
// service job to link to a sales relationship.
var serviceUnitPatterns = []string{"%install%", "%service%"}

// triggerStSync marks history rows written by the automatic sync pass.
const triggerStSync = "st_sync"

// StageMover is the slice of the CRM client the sync worker needs.
type StageMover interface {
	MoveOpportunityStage(ctx context.Context, opportunityID, stageID string) error
}

// RelationshipStore is the repository slice the sync worker depends on.
// Satisfied by repository.Repository; declared here so tests can substitute
// fakes.
type RelationshipStore interface {
	ListForSync(ctx context.Context) ([]repository.JobRelationship, error)
	ApplyStageMove(ctx context.Context, relID uuid.UUID, toStageID, toStageName, triggerType string, triggerJobID *int64, triggerJobStatus *string) error
	FindLinkableServiceJob(ctx context.Context, customerID int64, locationID *int64, unitPatterns []string, window time.Duration) (int64, string, error)
	LinkServiceJob(ctx context.Context, relID uuid.UUID, jobID int64, status string) error
	RefreshStatuses(ctx context.Context) (int64, error)
}

// Stats summarizes one sync pass. Logged on every run and stored on the
// worker run record.
type Stats struct {
	Processed int
	Moved     int
	Skipped   int
	Rejected  int
	Errors    int
	Linked    int
	Refreshed int64
}

func (s Stats) asMap() map[string]any {
	return map[string]any{
		"processed": s.Processed,
		"moved":     s.Moved,
		"skipped":   s.Skipped,
		"rejected":  s.Rejected,
		"errors":    s.Errors,
		"linked":    s.Linked,
		"refreshed": s.Refreshed,
	}
}

// SyncWorker walks every relationship, computes its target pipeline stage
// from current job/estimate status, and moves the CRM opportunity when the
// forward-only guard allows it. Errors are per-relationship; one bad row
// never aborts the batch.
type SyncWorker struct {
	repo   RelationshipStore
	crm    StageMover
	stages *Stages
	cfg    config.SyncConfig
	log    *logger.Logger
}

func NewSyncWorker(repo RelationshipStore, crmClient StageMover, stages *Stages, cfg config.SyncConfig, log *logger.Logger) *SyncWorker {
	return &SyncWorker{repo: repo, crm: crmClient, stages: stages, cfg: cfg, log: log}
}

// Run executes one sync pass: stage moves, then the service-job link pass,
// then the denormalized-status refresh.
func (w *SyncWorker) Run(ctx context.Context) (map[string]any, error) {
	var stats Stats

	rels, err := w.repo.ListForSync(ctx)
	if err != nil {
		return stats.asMap(), err
	}

	for _, rel := range rels {
		if ctx.Err() != nil {
			return stats.asMap(), ctx.Err()
		}
		stats.Processed++

		if w.cfg.IsStageAutoSyncEnabled() {
			w.syncOne(ctx, rel, &stats)
		}

		if w.cfg.IsServiceJobLinkEnabled() && rel.ServiceJobID == nil {
			w.linkOne(ctx, rel, &stats)
		}
	}

	refreshed, err := w.repo.RefreshStatuses(ctx)
	if err != nil {
		w.log.DatabaseError("job_relationships.refresh", err)
		stats.Errors++
	}
	stats.Refreshed = refreshed

	w.log.Info("stage sync pass finished",
		"processed", stats.Processed, "moved", stats.Moved, "skipped", stats.Skipped,
		"rejected", stats.Rejected, "linked", stats.Linked, "refreshed", stats.Refreshed,
		"errors", stats.Errors)
	return stats.asMap(), nil
}

// syncOne applies the state machine to a single relationship.
func (w *SyncWorker) syncOne(ctx context.Context, rel repository.JobRelationship, stats *Stats) {
	target, ok := TargetStage(rel)
	if !ok {
		stats.Skipped++
		return
	}

	targetID := w.stages.ID(target.StageKey)
	if targetID == "" {
		w.log.Warn("no stage id configured", "stage", target.StageKey)
		stats.Skipped++
		return
	}

	currentID := ""
	if rel.CurrentGHLStageID != nil {
		currentID = *rel.CurrentGHLStageID
	}
	if targetID == currentID {
		stats.Skipped++
		return
	}

	currentKey := w.stages.Key(currentID)
	if !AllowTransition(currentKey, target.StageKey) {
		w.log.Debug("backward stage move rejected",
			"opportunityId", rel.GHLOpportunityID,
			"from", currentKey, "to", target.StageKey, "triggerStatus", target.TriggerStatus)
		stats.Rejected++
		return
	}

	if err := w.crm.MoveOpportunityStage(ctx, rel.GHLOpportunityID, targetID); err != nil {
		w.log.ExternalCallError("crm", "move_stage", err)
		stats.Errors++
		return
	}

	err := w.repo.ApplyStageMove(ctx, rel.ID, targetID, target.StageKey, triggerStSync, &target.TriggerJobID, &target.TriggerStatus)
	if err != nil {
		// The external move already happened. current_ghl_stage_id is now
		// behind, so the next pass recomputes the same target and repeats
		// the move; moving to the stage it is already in is harmless.
		w.log.DatabaseError("job_relationships.apply_stage_move", err)
		stats.Errors++
		return
	}

	w.log.Info("stage moved",
		"opportunityId", rel.GHLOpportunityID, "from", currentKey, "to", target.StageKey,
		"triggerJobId", target.TriggerJobID, "triggerStatus", target.TriggerStatus)
	stats.Moved++
}

// linkOne tries to attach an install/service job to a relationship that has
// none yet.
func (w *SyncWorker) linkOne(ctx context.Context, rel repository.JobRelationship, stats *Stats) {
	jobID, status, err := w.repo.FindLinkableServiceJob(ctx, rel.CustomerID, rel.LocationID, serviceUnitPatterns, w.cfg.GetServiceJobLinkWindow())
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			w.log.DatabaseError("job_relationships.find_linkable", err)
			stats.Errors++
		}
		return
	}

	if err := w.repo.LinkServiceJob(ctx, rel.ID, jobID, status); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			w.log.DatabaseError("job_relationships.link", err)
			stats.Errors++
		}
		return
	}

	w.log.Info("service job linked",
		"opportunityId", rel.GHLOpportunityID, "serviceJobId", jobID, "status", status)
	stats.Linked++
}
