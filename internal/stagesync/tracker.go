package stagesync

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/crm"
	"followup_backend/internal/entities"
	"followup_backend/internal/stagesync/repository"
	"followup_backend/platform/logger"
)

// OpportunityLister is the slice of the CRM client the tracker needs.
type OpportunityLister interface {
	ListOpportunities(ctx context.Context, updatedSince time.Time) ([]crm.Opportunity, error)
}

// EntityReader is the slice of the entity store the tracker joins against.
// Satisfied by entities.Repository.
type EntityReader interface {
	GetJob(ctx context.Context, id int64) (entities.Job, error)
	GetCustomer(ctx context.Context, id int64) (entities.Customer, error)
	GetBusinessUnit(ctx context.Context, id int64) (entities.BusinessUnit, error)
	GetLocation(ctx context.Context, id int64) (entities.Location, error)
	LatestEstimateForJob(ctx context.Context, jobID int64) (entities.Estimate, error)
}

// TrackerStore is the relationship persistence the tracker's discover and
// enrich passes need. Satisfied by repository.Repository.
type TrackerStore interface {
	KnownOpportunityIDs(ctx context.Context) (map[string]struct{}, error)
	Create(ctx context.Context, p repository.CreateParams) (uuid.UUID, error)
	ListUnenriched(ctx context.Context, limit int) ([]repository.JobRelationship, error)
	Enrich(ctx context.Context, relID uuid.UUID, p repository.EnrichParams) error
}

// Tracker keeps the relationship table in step with the CRM opportunity
// list: a discover pass creates rows for untracked opportunities, an enrich
// pass backfills the denormalized fields on existing ones.
type Tracker struct {
	crm      OpportunityLister
	entities EntityReader
	repo     TrackerStore
	stages   *Stages
	log      *logger.Logger
}

func NewTracker(crmClient OpportunityLister, entitiesRepo EntityReader, repo TrackerStore, stages *Stages, log *logger.Logger) *Tracker {
	return &Tracker{crm: crmClient, entities: entitiesRepo, repo: repo, stages: stages, log: log}
}

// Opportunity names carry the originating job number, e.g.
// "Smith - Furnace Replacement #48213".
var jobNumberPattern = regexp.MustCompile(`#(\d+)`)

func extractJobID(opportunityName string) (int64, bool) {
	m := jobNumberPattern.FindStringSubmatch(opportunityName)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Run executes one discover + enrich pass and returns counters for the
// worker run record.
func (t *Tracker) Run(ctx context.Context) (map[string]any, error) {
	discovered, skipped, err := t.discover(ctx)
	if err != nil {
		return map[string]any{"discovered": discovered, "skipped": skipped}, err
	}

	enriched, err := t.enrich(ctx)
	return map[string]any{
		"discovered": discovered,
		"skipped":    skipped,
		"enriched":   enriched,
	}, err
}

func (t *Tracker) discover(ctx context.Context) (int, int, error) {
	opps, err := t.crm.ListOpportunities(ctx, time.Time{})
	if err != nil {
		return 0, 0, fmt.Errorf("list opportunities: %w", err)
	}

	known, err := t.repo.KnownOpportunityIDs(ctx)
	if err != nil {
		return 0, 0, err
	}

	discovered, skipped := 0, 0
	for _, opp := range opps {
		if _, tracked := known[opp.ID]; tracked {
			continue
		}
		if ctx.Err() != nil {
			return discovered, skipped, ctx.Err()
		}

		params, ok := t.resolve(ctx, opp)
		if !ok {
			skipped++
			continue
		}

		id, err := t.repo.Create(ctx, params)
		if err != nil {
			t.log.DatabaseError("job_relationships.create", err)
			skipped++
			continue
		}
		if id != uuid.Nil {
			discovered++
			t.log.Info("relationship discovered",
				"opportunityId", opp.ID, "salesJobId", params.SalesJobID, "stageId", opp.StageID)
		}
	}

	return discovered, skipped, nil
}

// resolve joins an opportunity to local sales-side data. The opportunity's
// live stage id seeds current_ghl_stage_id so the sync worker never replays
// pipeline history over a manually-set stage.
func (t *Tracker) resolve(ctx context.Context, opp crm.Opportunity) (repository.CreateParams, bool) {
	jobID, ok := extractJobID(opp.Name)
	if !ok {
		t.log.Warn("opportunity has no job number, skipping", "opportunityId", opp.ID, "name", opp.Name)
		return repository.CreateParams{}, false
	}

	job, err := t.entities.GetJob(ctx, jobID)
	if err != nil {
		t.log.Warn("opportunity job not found locally, skipping",
			"opportunityId", opp.ID, "jobId", jobID, "error", err)
		return repository.CreateParams{}, false
	}

	customer, err := t.entities.GetCustomer(ctx, job.CustomerID)
	if err != nil {
		t.log.Warn("opportunity customer unresolvable, skipping",
			"opportunityId", opp.ID, "customerId", job.CustomerID, "error", err)
		return repository.CreateParams{}, false
	}

	params := repository.CreateParams{
		GHLOpportunityID: opp.ID,
		SalesJobID:       job.ID,
		SalesJobStatus:   &job.Status,
		CustomerID:       customer.ID,
		CustomerName:     &customer.Name,
		LocationID:       job.LocationID,
	}
	if opp.ContactID != "" {
		params.GHLContactID = &opp.ContactID
	}
	if opp.StageID != "" {
		params.CurrentGHLStageID = &opp.StageID
		if key := t.stages.Key(opp.StageID); key != "" {
			params.CurrentGHLStageName = &key
		}
	}

	// The rest is optional enrichment; absence never blocks discovery.
	if est, err := t.entities.LatestEstimateForJob(ctx, job.ID); err == nil {
		params.SalesEstimateID = &est.ID
		params.SalesEstimateStatus = &est.Status
		params.EstimateTotalCents = &est.TotalCents
	} else if !errors.Is(err, entities.ErrNotFound) {
		t.log.DatabaseError("estimates.latest_for_job", err)
	}
	if bu, err := t.entities.GetBusinessUnit(ctx, job.BusinessUnitID); err == nil {
		params.BusinessUnitName = &bu.Name
	}
	if job.LocationID != nil {
		if loc, err := t.entities.GetLocation(ctx, *job.LocationID); err == nil {
			addr := fmt.Sprintf("%s, %s %s", loc.Street, loc.City, loc.Zip)
			params.LocationAddress = &addr
		}
	}

	return params, true
}

func (t *Tracker) enrich(ctx context.Context) (int, error) {
	rels, err := t.repo.ListUnenriched(ctx, 100)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for _, rel := range rels {
		if ctx.Err() != nil {
			return enriched, ctx.Err()
		}

		var p repository.EnrichParams

		if rel.CustomerName == nil {
			if customer, err := t.entities.GetCustomer(ctx, rel.CustomerID); err == nil {
				p.CustomerName = &customer.Name
			}
		}
		if rel.SalesEstimateID == nil || rel.EstimateTotalCents == nil {
			if est, err := t.entities.LatestEstimateForJob(ctx, rel.SalesJobID); err == nil {
				p.SalesEstimateID = &est.ID
				p.SalesEstimateStatus = &est.Status
				p.EstimateTotalCents = &est.TotalCents
			}
		}
		if rel.BusinessUnitName == nil {
			if job, err := t.entities.GetJob(ctx, rel.SalesJobID); err == nil {
				if bu, err := t.entities.GetBusinessUnit(ctx, job.BusinessUnitID); err == nil {
					p.BusinessUnitName = &bu.Name
				}
			}
		}
		if rel.LocationAddress == nil && rel.LocationID != nil {
			if loc, err := t.entities.GetLocation(ctx, *rel.LocationID); err == nil {
				addr := fmt.Sprintf("%s, %s %s", loc.Street, loc.City, loc.Zip)
				p.LocationAddress = &addr
			}
		}

		if p == (repository.EnrichParams{}) {
			continue
		}
		if err := t.repo.Enrich(ctx, rel.ID, p); err != nil {
			t.log.DatabaseError("job_relationships.enrich", err)
			continue
		}
		enriched++
	}

	return enriched, nil
}
