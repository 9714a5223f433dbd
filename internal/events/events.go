// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"followup_backend/platform/events"
	"followup_backend/platform/logger"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// NewInMemoryBus creates a new in-memory event bus.
func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Change Feed Events
//
// Emitted by the change detector when polling discovers created or transitioned
// rows in the mirrored field-service tables. Delivery is at-least-once: the
// same row may be reported again when a poll window overlaps, so every
// subscriber must be idempotent.
// =============================================================================

// JobCreated is published when a new job appears in the mirrored store.
type JobCreated struct {
	BaseEvent
	JobID          int64  `json:"jobId"`
	CustomerID     int64  `json:"customerId"`
	BusinessUnitID int64  `json:"businessUnitId"`
	Status         string `json:"status"`
}

func (e JobCreated) EventName() string { return "job.created" }

// JobStatusChanged is published when an existing job's status moved since the
// last poll watermark.
type JobStatusChanged struct {
	BaseEvent
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
}

func (e JobStatusChanged) EventName() string { return "job.status_changed" }

// JobCompleted is published when a job reaches its terminal Completed status.
// Emitted in addition to JobStatusChanged so workflows can trigger on
// completion specifically.
type JobCompleted struct {
	BaseEvent
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
}

func (e JobCompleted) EventName() string { return "job.completed" }

// JobCanceled is published when a job reaches its terminal Canceled status.
type JobCanceled struct {
	BaseEvent
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
}

func (e JobCanceled) EventName() string { return "job.canceled" }

// EstimateCreated is published when a new estimate appears in the mirrored store.
type EstimateCreated struct {
	BaseEvent
	EstimateID int64  `json:"estimateId"`
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
	TotalCents int64  `json:"totalCents"`
}

func (e EstimateCreated) EventName() string { return "estimate.created" }

// EstimateStatusChanged is published when an estimate's status moved since the
// last poll watermark.
type EstimateStatusChanged struct {
	BaseEvent
	EstimateID int64  `json:"estimateId"`
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
	TotalCents int64  `json:"totalCents"`
}

func (e EstimateStatusChanged) EventName() string { return "estimate.status_changed" }

// EstimateSold is published when an estimate reaches its Sold terminal status.
type EstimateSold struct {
	BaseEvent
	EstimateID int64  `json:"estimateId"`
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	TotalCents int64  `json:"totalCents"`
}

func (e EstimateSold) EventName() string { return "estimate.sold" }

// InvoiceCreated is published when a new invoice appears in the mirrored store.
type InvoiceCreated struct {
	BaseEvent
	InvoiceID  int64  `json:"invoiceId"`
	JobID      int64  `json:"jobId"`
	CustomerID int64  `json:"customerId"`
	Status     string `json:"status"`
	TotalCents int64  `json:"totalCents"`
}

func (e InvoiceCreated) EventName() string { return "invoice.created" }

// AppointmentScheduled is published when a new appointment appears in the
// mirrored store.
type AppointmentScheduled struct {
	BaseEvent
	AppointmentID int64  `json:"appointmentId"`
	JobID         int64  `json:"jobId"`
	CustomerID    int64  `json:"customerId"`
	Status        string `json:"status"`
}

func (e AppointmentScheduled) EventName() string { return "appointment.scheduled" }
