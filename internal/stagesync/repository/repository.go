// Package repository persists job relationships and their stage history.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("relationship not found")

// JobRelationship ties a CRM opportunity to its sales-side job/estimate and,
// once one is found, a service-side install job. Rows are never deleted;
// stage moves append to the history table instead.
type JobRelationship struct {
	ID                  uuid.UUID
	GHLOpportunityID    string
	GHLContactID        *string
	SalesJobID          int64
	SalesJobStatus      *string
	SalesEstimateID     *int64
	SalesEstimateStatus *string
	ServiceJobID        *int64
	ServiceJobStatus    *string
	CustomerID          int64
	CustomerName        *string
	LocationID          *int64
	LocationAddress     *string
	BusinessUnitName    *string
	EstimateTotalCents  *int64
	CurrentGHLStageID   *string
	PreviousGHLStageID  *string
	CurrentGHLStageName *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// StageHistory is one applied stage transition.
type StageHistory struct {
	ID                uuid.UUID
	JobRelationshipID uuid.UUID
	FromStageID       *string
	ToStageID         string
	TriggerType       string
	TriggerJobID      *int64
	TriggerJobStatus  *string
	CreatedAt         time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateParams seeds a new relationship from a discovered opportunity.
type CreateParams struct {
	GHLOpportunityID    string
	GHLContactID        *string
	SalesJobID          int64
	SalesJobStatus      *string
	SalesEstimateID     *int64
	SalesEstimateStatus *string
	CustomerID          int64
	CustomerName        *string
	LocationID          *int64
	LocationAddress     *string
	BusinessUnitName    *string
	EstimateTotalCents  *int64
	CurrentGHLStageID   *string
	CurrentGHLStageName *string
}

// Create inserts a relationship. The unique constraint on ghl_opportunity_id
// makes discovery idempotent: a concurrent or repeated discover pass for the
// same opportunity inserts nothing and returns uuid.Nil.
func (r *Repository) Create(ctx context.Context, p CreateParams) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO job_relationships (
			ghl_opportunity_id, ghl_contact_id,
			sales_job_id, sales_job_status, sales_estimate_id, sales_estimate_status,
			customer_id, customer_name, location_id, location_address, business_unit_name,
			estimate_total_cents, current_ghl_stage_id, current_ghl_stage_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (ghl_opportunity_id) DO NOTHING
		RETURNING id
	`, p.GHLOpportunityID, p.GHLContactID,
		p.SalesJobID, p.SalesJobStatus, p.SalesEstimateID, p.SalesEstimateStatus,
		p.CustomerID, p.CustomerName, p.LocationID, p.LocationAddress, p.BusinessUnitName,
		p.EstimateTotalCents, p.CurrentGHLStageID, p.CurrentGHLStageName).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}

// KnownOpportunityIDs returns the set of opportunity ids that already have a
// relationship row. The discover pass anti-joins the live opportunity list
// against this set.
func (r *Repository) KnownOpportunityIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := r.pool.Query(ctx, `SELECT ghl_opportunity_id FROM job_relationships`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	known := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		known[id] = struct{}{}
	}
	return known, rows.Err()
}

const relationshipColumns = `
	id, ghl_opportunity_id, ghl_contact_id,
	sales_job_id, sales_job_status, sales_estimate_id, sales_estimate_status,
	service_job_id, service_job_status,
	customer_id, customer_name, location_id, location_address, business_unit_name,
	estimate_total_cents, current_ghl_stage_id, previous_ghl_stage_id, current_ghl_stage_name,
	created_at, updated_at`

func scanRelationship(row pgx.Row) (JobRelationship, error) {
	var rel JobRelationship
	err := row.Scan(
		&rel.ID, &rel.GHLOpportunityID, &rel.GHLContactID,
		&rel.SalesJobID, &rel.SalesJobStatus, &rel.SalesEstimateID, &rel.SalesEstimateStatus,
		&rel.ServiceJobID, &rel.ServiceJobStatus,
		&rel.CustomerID, &rel.CustomerName, &rel.LocationID, &rel.LocationAddress, &rel.BusinessUnitName,
		&rel.EstimateTotalCents, &rel.CurrentGHLStageID, &rel.PreviousGHLStageID, &rel.CurrentGHLStageName,
		&rel.CreatedAt, &rel.UpdatedAt,
	)
	return rel, err
}

// Get returns one relationship by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (JobRelationship, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+relationshipColumns+` FROM job_relationships WHERE id = $1`, id)
	rel, err := scanRelationship(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return JobRelationship{}, ErrNotFound
	}
	return rel, err
}

// List returns relationships, newest first.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]JobRelationship, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM job_relationships
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []JobRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// ListForSync returns every relationship the sync worker should evaluate.
// Ordered oldest-updated first so a large backlog drains fairly.
func (r *Repository) ListForSync(ctx context.Context) ([]JobRelationship, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM job_relationships
		ORDER BY updated_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []JobRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// ApplyStageMove writes the new stage onto the relationship, shifting the
// old value into previous_ghl_stage_id, and appends the history row in the
// same transaction. Called only after the external move succeeded.
func (r *Repository) ApplyStageMove(ctx context.Context, relID uuid.UUID, toStageID, toStageName, triggerType string, triggerJobID *int64, triggerJobStatus *string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var fromStageID *string
	err = tx.QueryRow(ctx, `
		UPDATE job_relationships
		SET previous_ghl_stage_id = current_ghl_stage_id,
		    current_ghl_stage_id = $2,
		    current_ghl_stage_name = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING previous_ghl_stage_id
	`, relID, toStageID, toStageName).Scan(&fromStageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO job_stage_history (job_relationship_id, from_stage_id, to_stage_id, trigger_type, trigger_job_id, trigger_job_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, relID, fromStageID, toStageID, triggerType, triggerJobID, triggerJobStatus)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ListHistory returns a relationship's stage transitions, oldest first.
func (r *Repository) ListHistory(ctx context.Context, relID uuid.UUID) ([]StageHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_relationship_id, from_stage_id, to_stage_id, trigger_type, trigger_job_id, trigger_job_status, created_at
		FROM job_stage_history
		WHERE job_relationship_id = $1
		ORDER BY created_at ASC
	`, relID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []StageHistory
	for rows.Next() {
		var h StageHistory
		if err := rows.Scan(&h.ID, &h.JobRelationshipID, &h.FromStageID, &h.ToStageID, &h.TriggerType, &h.TriggerJobID, &h.TriggerJobStatus, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

// EnrichParams are the backfillable denormalized fields. Nil fields are left
// untouched; enrichment is additive and only the "latest" fields (statuses,
// total) may overwrite existing values.
type EnrichParams struct {
	GHLContactID        *string
	SalesEstimateID     *int64
	SalesEstimateStatus *string
	CustomerName        *string
	LocationAddress     *string
	BusinessUnitName    *string
	EstimateTotalCents  *int64
}

// Enrich backfills denormalized fields on a relationship.
func (r *Repository) Enrich(ctx context.Context, relID uuid.UUID, p EnrichParams) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE job_relationships
		SET ghl_contact_id = COALESCE(ghl_contact_id, $2),
		    sales_estimate_id = COALESCE(sales_estimate_id, $3),
		    sales_estimate_status = COALESCE($4, sales_estimate_status),
		    customer_name = COALESCE(customer_name, $5),
		    location_address = COALESCE(location_address, $6),
		    business_unit_name = COALESCE(business_unit_name, $7),
		    estimate_total_cents = COALESCE($8, estimate_total_cents),
		    updated_at = now()
		WHERE id = $1
	`, relID, p.GHLContactID, p.SalesEstimateID, p.SalesEstimateStatus, p.CustomerName, p.LocationAddress, p.BusinessUnitName, p.EstimateTotalCents)
	return err
}

// ListUnenriched returns relationships missing any denormalized field.
func (r *Repository) ListUnenriched(ctx context.Context, limit int) ([]JobRelationship, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+relationshipColumns+`
		FROM job_relationships
		WHERE customer_name IS NULL
		   OR business_unit_name IS NULL
		   OR sales_estimate_id IS NULL
		   OR estimate_total_cents IS NULL
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rels []JobRelationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// FindLinkableServiceJob looks for an install/service job that belongs to
// the relationship's customer, sits at the same (or no) location, was
// created within the recency window, and is not already linked to any
// relationship. Returns the newest match. The join is a heuristic, not a
// foreign key; when a customer has several concurrent install jobs the
// newest one wins.
func (r *Repository) FindLinkableServiceJob(ctx context.Context, customerID int64, locationID *int64, unitPatterns []string, window time.Duration) (int64, string, error) {
	var jobID int64
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT j.id, j.status
		FROM jobs j
		JOIN business_units bu ON bu.id = j.business_unit_id
		WHERE j.customer_id = $1
		  AND ($2::bigint IS NULL OR j.location_id IS NULL OR j.location_id = $2)
		  AND bu.name ILIKE ANY($3::text[])
		  AND j.source_created_at > now() - make_interval(secs => $4)
		  AND NOT EXISTS (
			SELECT 1 FROM job_relationships r WHERE r.service_job_id = j.id
		  )
		ORDER BY j.source_created_at DESC
		LIMIT 1
	`, customerID, locationID, unitPatterns, window.Seconds()).Scan(&jobID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, "", ErrNotFound
	}
	return jobID, status, err
}

// LinkServiceJob attaches a service job to a relationship. Guarded so an
// already-linked relationship is never relinked.
func (r *Repository) LinkServiceJob(ctx context.Context, relID uuid.UUID, jobID int64, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_relationships
		SET service_job_id = $2, service_job_status = $3, updated_at = now()
		WHERE id = $1 AND service_job_id IS NULL
	`, relID, jobID, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RefreshStatuses re-reads the denormalized sales/service/estimate status
// and total columns from the mirrored tables. Returns how many rows changed.
func (r *Repository) RefreshStatuses(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE job_relationships rel
		SET sales_job_status = COALESCE(sj.status, rel.sales_job_status),
		    service_job_status = COALESCE(svc.status, rel.service_job_status),
		    sales_estimate_status = COALESCE(e.status, rel.sales_estimate_status),
		    estimate_total_cents = COALESCE(e.total_cents, rel.estimate_total_cents),
		    updated_at = now()
		FROM job_relationships r2
		LEFT JOIN jobs sj ON sj.id = r2.sales_job_id
		LEFT JOIN jobs svc ON svc.id = r2.service_job_id
		LEFT JOIN estimates e ON e.id = r2.sales_estimate_id
		WHERE rel.id = r2.id
		  AND (sj.status IS DISTINCT FROM rel.sales_job_status AND sj.id IS NOT NULL
		    OR svc.status IS DISTINCT FROM rel.service_job_status AND svc.id IS NOT NULL
		    OR e.status IS DISTINCT FROM rel.sales_estimate_status AND e.id IS NOT NULL
		    OR e.total_cents IS DISTINCT FROM rel.estimate_total_cents AND e.id IS NOT NULL)
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
