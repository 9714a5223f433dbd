// Package entities provides the mirrored field-service entity store. All rows
// are keyed by their external platform identifier; mirroring upserts rely on
// INSERT ... ON CONFLICT so redelivered rows are harmless.
package entities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("entity not found")

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Upserts (mirror worker)
// =============================================================================

func (r *Repository) UpsertCustomer(ctx context.Context, c Customer) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO customers (id, name, email, phone, do_not_contact, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			do_not_contact = EXCLUDED.do_not_contact,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
	`, c.ID, c.Name, c.Email, c.Phone, c.DoNotContact, c.SourceUpdated)
	return err
}

func (r *Repository) UpsertLocation(ctx context.Context, l Location) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO locations (id, customer_id, street, city, zip)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			street = EXCLUDED.street,
			city = EXCLUDED.city,
			zip = EXCLUDED.zip,
			updated_at = now()
	`, l.ID, l.CustomerID, l.Street, l.City, l.Zip)
	return err
}

func (r *Repository) UpsertBusinessUnit(ctx context.Context, b BusinessUnit) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO business_units (id, name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, updated_at = now()
	`, b.ID, b.Name)
	return err
}

func (r *Repository) UpsertJob(ctx context.Context, j Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (id, customer_id, location_id, business_unit_id, status, summary, source_created_at, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id,
			location_id = EXCLUDED.location_id,
			business_unit_id = EXCLUDED.business_unit_id,
			status = EXCLUDED.status,
			summary = EXCLUDED.summary,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
	`, j.ID, j.CustomerID, j.LocationID, j.BusinessUnitID, j.Status, j.Summary, j.SourceCreated, j.SourceUpdated)
	return err
}

func (r *Repository) UpsertEstimate(ctx context.Context, e Estimate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO estimates (id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			total_cents = EXCLUDED.total_cents,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
	`, e.ID, e.JobID, e.CustomerID, e.Status, e.TotalCents, e.SourceCreated, e.SourceUpdated)
	return err
}

func (r *Repository) UpsertInvoice(ctx context.Context, inv Invoice) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO invoices (id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			total_cents = EXCLUDED.total_cents,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
	`, inv.ID, inv.JobID, inv.CustomerID, inv.Status, inv.TotalCents, inv.SourceCreated, inv.SourceUpdated)
	return err
}

func (r *Repository) UpsertAppointment(ctx context.Context, a Appointment) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointments (id, job_id, customer_id, status, start_time, source_created_at, source_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			customer_id = EXCLUDED.customer_id,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			source_updated_at = EXCLUDED.source_updated_at,
			updated_at = now()
	`, a.ID, a.JobID, a.CustomerID, a.Status, a.StartTime, a.SourceCreated, a.SourceUpdated)
	return err
}

// =============================================================================
// Change-window queries (change detector)
// =============================================================================

// JobsChangedSince returns jobs whose source timestamps moved past the
// watermark, oldest first so downstream events preserve source order.
func (r *Repository) JobsChangedSince(ctx context.Context, since time.Time, limit int) ([]Job, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, location_id, business_unit_id, status, summary, source_created_at, source_updated_at, updated_at
		FROM jobs
		WHERE source_updated_at > $1 OR source_created_at > $1
		ORDER BY source_updated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Job, 0)
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.CustomerID, &j.LocationID, &j.BusinessUnitID, &j.Status, &j.Summary, &j.SourceCreated, &j.SourceUpdated, &j.MirroredAt); err != nil {
			return nil, err
		}
		items = append(items, j)
	}
	return items, rows.Err()
}

func (r *Repository) EstimatesChangedSince(ctx context.Context, since time.Time, limit int) ([]Estimate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at, updated_at
		FROM estimates
		WHERE source_updated_at > $1 OR source_created_at > $1
		ORDER BY source_updated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Estimate, 0)
	for rows.Next() {
		var e Estimate
		if err := rows.Scan(&e.ID, &e.JobID, &e.CustomerID, &e.Status, &e.TotalCents, &e.SourceCreated, &e.SourceUpdated, &e.MirroredAt); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *Repository) InvoicesChangedSince(ctx context.Context, since time.Time, limit int) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at
		FROM invoices
		WHERE source_updated_at > $1 OR source_created_at > $1
		ORDER BY source_updated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Invoice, 0)
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.JobID, &inv.CustomerID, &inv.Status, &inv.TotalCents, &inv.SourceCreated, &inv.SourceUpdated); err != nil {
			return nil, err
		}
		items = append(items, inv)
	}
	return items, rows.Err()
}

func (r *Repository) AppointmentsChangedSince(ctx context.Context, since time.Time, limit int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, job_id, customer_id, status, start_time, source_created_at, source_updated_at
		FROM appointments
		WHERE source_updated_at > $1 OR source_created_at > $1
		ORDER BY source_updated_at ASC
		LIMIT $2
	`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Appointment, 0)
	for rows.Next() {
		var a Appointment
		if err := rows.Scan(&a.ID, &a.JobID, &a.CustomerID, &a.Status, &a.StartTime, &a.SourceCreated, &a.SourceUpdated); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

// =============================================================================
// Fresh reads (condition evaluator, execution engine)
// =============================================================================

func (r *Repository) GetJob(ctx context.Context, id int64) (Job, error) {
	var j Job
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, location_id, business_unit_id, status, summary, source_created_at, source_updated_at, updated_at
		FROM jobs WHERE id = $1
	`, id).Scan(&j.ID, &j.CustomerID, &j.LocationID, &j.BusinessUnitID, &j.Status, &j.Summary, &j.SourceCreated, &j.SourceUpdated, &j.MirroredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return j, err
}

func (r *Repository) GetEstimate(ctx context.Context, id int64) (Estimate, error) {
	var e Estimate
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at, updated_at
		FROM estimates WHERE id = $1
	`, id).Scan(&e.ID, &e.JobID, &e.CustomerID, &e.Status, &e.TotalCents, &e.SourceCreated, &e.SourceUpdated, &e.MirroredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Estimate{}, ErrNotFound
	}
	return e, err
}

func (r *Repository) GetInvoice(ctx context.Context, id int64) (Invoice, error) {
	var inv Invoice
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at
		FROM invoices WHERE id = $1
	`, id).Scan(&inv.ID, &inv.JobID, &inv.CustomerID, &inv.Status, &inv.TotalCents, &inv.SourceCreated, &inv.SourceUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (r *Repository) GetAppointment(ctx context.Context, id int64) (Appointment, error) {
	var a Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, customer_id, status, start_time, source_created_at, source_updated_at
		FROM appointments WHERE id = $1
	`, id).Scan(&a.ID, &a.JobID, &a.CustomerID, &a.Status, &a.StartTime, &a.SourceCreated, &a.SourceUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Appointment{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) GetCustomer(ctx context.Context, id int64) (Customer, error) {
	var c Customer
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, do_not_contact, source_updated_at
		FROM customers WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.DoNotContact, &c.SourceUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return Customer{}, ErrNotFound
	}
	return c, err
}

func (r *Repository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var l Location
	err := r.pool.QueryRow(ctx, `
		SELECT id, customer_id, street, city, zip
		FROM locations WHERE id = $1
	`, id).Scan(&l.ID, &l.CustomerID, &l.Street, &l.City, &l.Zip)
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrNotFound
	}
	return l, err
}

func (r *Repository) GetBusinessUnit(ctx context.Context, id int64) (BusinessUnit, error) {
	var b BusinessUnit
	err := r.pool.QueryRow(ctx, `
		SELECT id, name FROM business_units WHERE id = $1
	`, id).Scan(&b.ID, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return BusinessUnit{}, ErrNotFound
	}
	return b, err
}

// LatestEstimateForJob returns the most recently created estimate on a job.
func (r *Repository) LatestEstimateForJob(ctx context.Context, jobID int64) (Estimate, error) {
	var e Estimate
	err := r.pool.QueryRow(ctx, `
		SELECT id, job_id, customer_id, status, total_cents, source_created_at, source_updated_at, updated_at
		FROM estimates
		WHERE job_id = $1
		ORDER BY source_created_at DESC
		LIMIT 1
	`, jobID).Scan(&e.ID, &e.JobID, &e.CustomerID, &e.Status, &e.TotalCents, &e.SourceCreated, &e.SourceUpdated, &e.MirroredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Estimate{}, ErrNotFound
	}
	return e, err
}

// EntityState returns the current state of an entity plus its customer as a
// nested lookup map for condition evaluation. The read is always fresh:
// conditions gate side-effecting actions and must see up-to-date status.
func (r *Repository) EntityState(ctx context.Context, entityType string, entityID int64) (map[string]map[string]any, error) {
	state := make(map[string]map[string]any)
	var customerID int64

	switch entityType {
	case TypeJob:
		j, err := r.GetJob(ctx, entityID)
		if err != nil {
			return nil, err
		}
		customerID = j.CustomerID
		state[TypeJob] = map[string]any{
			"id":     j.ID,
			"status": j.Status,
		}
	case TypeEstimate:
		e, err := r.GetEstimate(ctx, entityID)
		if err != nil {
			return nil, err
		}
		customerID = e.CustomerID
		state[TypeEstimate] = map[string]any{
			"id":     e.ID,
			"job_id": e.JobID,
			"status": e.Status,
			"total":  e.TotalCents,
		}
		// Estimate conditions frequently reference the parent job as well.
		if j, err := r.GetJob(ctx, e.JobID); err == nil {
			state[TypeJob] = map[string]any{"id": j.ID, "status": j.Status}
		}
	case TypeInvoice:
		inv, err := r.GetInvoice(ctx, entityID)
		if err != nil {
			return nil, err
		}
		customerID = inv.CustomerID
		state[TypeInvoice] = map[string]any{
			"id":     inv.ID,
			"status": inv.Status,
			"total":  inv.TotalCents,
		}
	case TypeAppointment:
		a, err := r.GetAppointment(ctx, entityID)
		if err != nil {
			return nil, err
		}
		customerID = a.CustomerID
		state[TypeAppointment] = map[string]any{
			"id":     a.ID,
			"job_id": a.JobID,
			"status": a.Status,
		}
		if j, err := r.GetJob(ctx, a.JobID); err == nil {
			state[TypeJob] = map[string]any{"id": j.ID, "status": j.Status}
		}
	default:
		return nil, fmt.Errorf("unsupported entity type %q", entityType)
	}

	c, err := r.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	state["customer"] = map[string]any{
		"id":             c.ID,
		"name":           c.Name,
		"do_not_contact": c.DoNotContact,
	}

	return state, nil
}
