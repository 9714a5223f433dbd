package fieldservice

import (
	"context"
	"fmt"
	"time"

	"followup_backend/internal/changefeed"
	"followup_backend/internal/entities"
	"followup_backend/platform/logger"
)

// Watermark keys for the mirror passes. Kept distinct from the change
// detector's keys: the detector watches the local store, the mirror watches
// the upstream platform.
const (
	markCustomers    = "mirror.customers"
	markJobs         = "mirror.jobs"
	markEstimates    = "mirror.estimates"
	markInvoices     = "mirror.invoices"
	markAppointments = "mirror.appointments"
)

// Mirror pulls changed records from the field-service platform into the
// local store. Upserts are keyed by external id, so re-pulling an unchanged
// window is harmless.
type Mirror struct {
	client *Client
	repo   *entities.Repository
	marks  *changefeed.WatermarkStore
	log    *logger.Logger
}

func NewMirror(client *Client, repo *entities.Repository, marks *changefeed.WatermarkStore, log *logger.Logger) *Mirror {
	return &Mirror{client: client, repo: repo, marks: marks, log: log}
}

// Sync runs one full mirror pass. Customers and business units go first so
// the job rows they anchor never reference a missing parent. Each pass keeps
// its own watermark; a failing pass does not hold back the others.
func (m *Mirror) Sync(ctx context.Context) (map[string]any, error) {
	if !m.client.Enabled() {
		return map[string]any{"skipped": "field-service not configured"}, nil
	}

	counts := make(map[string]any)
	var firstErr error

	record := func(name string, n int, err error) {
		if err != nil {
			m.log.ExternalCallError("field-service", "mirror."+name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("mirror %s: %w", name, err)
			}
			return
		}
		counts[name] = n
	}

	units, err := m.client.ListBusinessUnits(ctx)
	if err == nil {
		for _, u := range units {
			if uerr := m.repo.UpsertBusinessUnit(ctx, entities.BusinessUnit{ID: u.ID, Name: u.Name}); uerr != nil {
				err = uerr
				break
			}
		}
	}
	record("business_units", len(units), err)

	record(m.syncCustomers(ctx))
	record(m.syncJobs(ctx))
	record(m.syncEstimates(ctx))
	record(m.syncInvoices(ctx))
	record(m.syncAppointments(ctx))

	return counts, firstErr
}

func (m *Mirror) syncCustomers(ctx context.Context) (string, int, error) {
	const name = "customers"
	since, err := m.marks.Get(ctx, markCustomers)
	if err != nil {
		return name, 0, err
	}
	passStart := time.Now()

	customers, err := m.client.ListCustomers(ctx, since)
	if err != nil {
		return name, 0, err
	}
	for _, c := range customers {
		err := m.repo.UpsertCustomer(ctx, entities.Customer{
			ID:            c.ID,
			Name:          c.Name,
			Email:         c.Email,
			Phone:         c.Phone,
			DoNotContact:  c.DoNotContact,
			SourceUpdated: c.ModifiedOn,
		})
		if err != nil {
			return name, 0, err
		}
	}

	return name, len(customers), m.marks.Advance(ctx, markCustomers, passStart)
}

func (m *Mirror) syncJobs(ctx context.Context) (string, int, error) {
	const name = "jobs"
	since, err := m.marks.Get(ctx, markJobs)
	if err != nil {
		return name, 0, err
	}
	passStart := time.Now()

	jobs, err := m.client.ListJobs(ctx, since)
	if err != nil {
		return name, 0, err
	}
	for _, j := range jobs {
		err := m.repo.UpsertJob(ctx, entities.Job{
			ID:             j.ID,
			CustomerID:     j.CustomerID,
			LocationID:     j.LocationID,
			BusinessUnitID: j.BusinessUnitID,
			Status:         j.Status,
			Summary:        j.Summary,
			SourceCreated:  j.CreatedOn,
			SourceUpdated:  j.ModifiedOn,
		})
		if err != nil {
			return name, 0, err
		}
	}

	return name, len(jobs), m.marks.Advance(ctx, markJobs, passStart)
}

func (m *Mirror) syncEstimates(ctx context.Context) (string, int, error) {
	const name = "estimates"
	since, err := m.marks.Get(ctx, markEstimates)
	if err != nil {
		return name, 0, err
	}
	passStart := time.Now()

	estimates, err := m.client.ListEstimates(ctx, since)
	if err != nil {
		return name, 0, err
	}
	for _, e := range estimates {
		err := m.repo.UpsertEstimate(ctx, entities.Estimate{
			ID:            e.ID,
			JobID:         e.JobID,
			CustomerID:    e.CustomerID,
			Status:        e.Status,
			TotalCents:    e.TotalCents,
			SourceCreated: e.CreatedOn,
			SourceUpdated: e.ModifiedOn,
		})
		if err != nil {
			return name, 0, err
		}
	}

	return name, len(estimates), m.marks.Advance(ctx, markEstimates, passStart)
}

func (m *Mirror) syncInvoices(ctx context.Context) (string, int, error) {
	const name = "invoices"
	since, err := m.marks.Get(ctx, markInvoices)
	if err != nil {
		return name, 0, err
	}
	passStart := time.Now()

	invoices, err := m.client.ListInvoices(ctx, since)
	if err != nil {
		return name, 0, err
	}
	for _, inv := range invoices {
		err := m.repo.UpsertInvoice(ctx, entities.Invoice{
			ID:            inv.ID,
			JobID:         inv.JobID,
			CustomerID:    inv.CustomerID,
			Status:        inv.Status,
			TotalCents:    inv.TotalCents,
			SourceCreated: inv.CreatedOn,
			SourceUpdated: inv.ModifiedOn,
		})
		if err != nil {
			return name, 0, err
		}
	}

	return name, len(invoices), m.marks.Advance(ctx, markInvoices, passStart)
}

func (m *Mirror) syncAppointments(ctx context.Context) (string, int, error) {
	const name = "appointments"
	since, err := m.marks.Get(ctx, markAppointments)
	if err != nil {
		return name, 0, err
	}
	passStart := time.Now()

	appointments, err := m.client.ListAppointments(ctx, since)
	if err != nil {
		return name, 0, err
	}
	for _, a := range appointments {
		err := m.repo.UpsertAppointment(ctx, entities.Appointment{
			ID:            a.ID,
			JobID:         a.JobID,
			CustomerID:    a.CustomerID,
			Status:        a.Status,
			StartTime:     a.StartTime,
			SourceCreated: a.CreatedOn,
			SourceUpdated: a.ModifiedOn,
		})
		if err != nil {
			return name, 0, err
		}
	}

	return name, len(appointments), m.marks.Advance(ctx, markAppointments, passStart)
}
