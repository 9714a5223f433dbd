package changefeed

import (
	"testing"
	"time"

	"followup_backend/internal/entities"
)

func TestClassifyJobCreatedInWindow(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	j := entities.Job{ID: 7, CustomerID: 3, Status: "Open", SourceCreated: time.Now()}

	evts := classifyJob(j, since)
	if len(evts) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evts))
	}
	if evts[0].EventName() != "job.created" {
		t.Fatalf("expected job.created, got %s", evts[0].EventName())
	}
}

func TestClassifyJobStatusChange(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	j := entities.Job{ID: 7, Status: "InProgress", SourceCreated: time.Now().Add(-time.Hour)}

	evts := classifyJob(j, since)
	if len(evts) != 1 || evts[0].EventName() != "job.status_changed" {
		t.Fatalf("expected single job.status_changed, got %v", evts)
	}
}

func TestClassifyJobTerminalStatusEmitsBoth(t *testing.T) {
	since := time.Now().Add(-time.Minute)

	completed := entities.Job{ID: 7, Status: "Completed", SourceCreated: time.Now().Add(-time.Hour)}
	evts := classifyJob(completed, since)
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].EventName() != "job.status_changed" || evts[1].EventName() != "job.completed" {
		t.Fatalf("unexpected events: %s, %s", evts[0].EventName(), evts[1].EventName())
	}

	canceled := entities.Job{ID: 8, Status: "Canceled", SourceCreated: time.Now()}
	evts = classifyJob(canceled, since)
	if len(evts) != 2 || evts[0].EventName() != "job.created" || evts[1].EventName() != "job.canceled" {
		t.Fatalf("expected created+canceled pair, got %d events", len(evts))
	}
}

func TestClassifyEstimateSold(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	e := entities.Estimate{ID: 5, JobID: 7, Status: "Sold", TotalCents: 250000, SourceCreated: time.Now().Add(-time.Hour)}

	evts := classifyEstimate(e, since)
	if len(evts) != 2 {
		t.Fatalf("expected 2 events, got %d", len(evts))
	}
	if evts[0].EventName() != "estimate.status_changed" || evts[1].EventName() != "estimate.sold" {
		t.Fatalf("unexpected events: %s, %s", evts[0].EventName(), evts[1].EventName())
	}
}

func TestClassifyInvoiceOnlyOnCreate(t *testing.T) {
	since := time.Now().Add(-time.Minute)

	created := entities.Invoice{ID: 1, SourceCreated: time.Now()}
	if evts := classifyInvoice(created, since); len(evts) != 1 || evts[0].EventName() != "invoice.created" {
		t.Fatalf("expected single invoice.created, got %d events", len(evts))
	}

	updated := entities.Invoice{ID: 2, SourceCreated: time.Now().Add(-time.Hour)}
	if evts := classifyInvoice(updated, since); len(evts) != 0 {
		t.Fatalf("expected no events for an updated invoice, got %d", len(evts))
	}
}

func TestClassifyAppointmentOnlyOnCreate(t *testing.T) {
	since := time.Now().Add(-time.Minute)

	created := entities.Appointment{ID: 1, JobID: 7, SourceCreated: time.Now()}
	if evts := classifyAppointment(created, since); len(evts) != 1 || evts[0].EventName() != "appointment.scheduled" {
		t.Fatalf("expected single appointment.scheduled, got %d events", len(evts))
	}

	rescheduled := entities.Appointment{ID: 2, SourceCreated: time.Now().Add(-time.Hour)}
	if evts := classifyAppointment(rescheduled, since); len(evts) != 0 {
		t.Fatalf("expected no events for an updated appointment, got %d", len(evts))
	}
}
