package changefeed

import (
	"time"

	"followup_backend/internal/entities"
	"followup_backend/internal/events"
)

// Terminal field-service statuses that emit a distinct event in addition to
// the generic status-change event.
const (
	jobStatusCompleted = "Completed"
	jobStatusCanceled  = "Canceled"
	estimateStatusSold = "Sold"
)

// classifyJob maps a changed job row to zero or more typed events. A row
// created inside the window emits a created event; any other change emits a
// status-change event. Terminal statuses additionally emit their dedicated
// event so workflows can trigger on them directly.
func classifyJob(j entities.Job, since time.Time) []events.Event {
	var out []events.Event

	if j.SourceCreated.After(since) {
		out = append(out, events.JobCreated{
			BaseEvent:      events.NewBaseEvent(),
			JobID:          j.ID,
			CustomerID:     j.CustomerID,
			BusinessUnitID: j.BusinessUnitID,
			Status:         j.Status,
		})
	} else {
		out = append(out, events.JobStatusChanged{
			BaseEvent:  events.NewBaseEvent(),
			JobID:      j.ID,
			CustomerID: j.CustomerID,
			Status:     j.Status,
		})
	}

	switch j.Status {
	case jobStatusCompleted:
		out = append(out, events.JobCompleted{
			BaseEvent:  events.NewBaseEvent(),
			JobID:      j.ID,
			CustomerID: j.CustomerID,
			Status:     j.Status,
		})
	case jobStatusCanceled:
		out = append(out, events.JobCanceled{
			BaseEvent:  events.NewBaseEvent(),
			JobID:      j.ID,
			CustomerID: j.CustomerID,
			Status:     j.Status,
		})
	}

	return out
}

func classifyEstimate(e entities.Estimate, since time.Time) []events.Event {
	var out []events.Event

	if e.SourceCreated.After(since) {
		out = append(out, events.EstimateCreated{
			BaseEvent:  events.NewBaseEvent(),
			EstimateID: e.ID,
			JobID:      e.JobID,
			CustomerID: e.CustomerID,
			Status:     e.Status,
			TotalCents: e.TotalCents,
		})
	} else {
		out = append(out, events.EstimateStatusChanged{
			BaseEvent:  events.NewBaseEvent(),
			EstimateID: e.ID,
			JobID:      e.JobID,
			CustomerID: e.CustomerID,
			Status:     e.Status,
			TotalCents: e.TotalCents,
		})
	}

	if e.Status == estimateStatusSold {
		out = append(out, events.EstimateSold{
			BaseEvent:  events.NewBaseEvent(),
			EstimateID: e.ID,
			JobID:      e.JobID,
			CustomerID: e.CustomerID,
			TotalCents: e.TotalCents,
		})
	}

	return out
}

func classifyInvoice(inv entities.Invoice, since time.Time) []events.Event {
	if !inv.SourceCreated.After(since) {
		return nil
	}
	return []events.Event{events.InvoiceCreated{
		BaseEvent:  events.NewBaseEvent(),
		InvoiceID:  inv.ID,
		JobID:      inv.JobID,
		CustomerID: inv.CustomerID,
		Status:     inv.Status,
		TotalCents: inv.TotalCents,
	}}
}

func classifyAppointment(a entities.Appointment, since time.Time) []events.Event {
	if !a.SourceCreated.After(since) {
		return nil
	}
	return []events.Event{events.AppointmentScheduled{
		BaseEvent:     events.NewBaseEvent(),
		AppointmentID: a.ID,
		JobID:         a.JobID,
		CustomerID:    a.CustomerID,
		Status:        a.Status,
	}}
}
