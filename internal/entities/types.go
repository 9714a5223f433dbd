package entities

import "time"

// Entity type identifiers used by the change detector, the workflow tables
// and the watermark store. Values match the mirrored table names.
const (
	TypeJob         = "job"
	TypeEstimate    = "estimate"
	TypeInvoice     = "invoice"
	TypeAppointment = "appointment"
)

// Job is a mirrored field-service job. ID is the external platform identifier.
type Job struct {
	ID             int64
	CustomerID     int64
	LocationID     *int64
	BusinessUnitID int64
	Status         string
	Summary        *string
	SourceCreated  time.Time
	SourceUpdated  time.Time
	MirroredAt     time.Time
}

// Estimate is a mirrored sales estimate.
type Estimate struct {
	ID            int64
	JobID         int64
	CustomerID    int64
	Status        string
	TotalCents    int64
	SourceCreated time.Time
	SourceUpdated time.Time
	MirroredAt    time.Time
}

// Invoice is a mirrored invoice.
type Invoice struct {
	ID            int64
	JobID         int64
	CustomerID    int64
	Status        string
	TotalCents    int64
	SourceCreated time.Time
	SourceUpdated time.Time
}

// Appointment is a mirrored job appointment.
type Appointment struct {
	ID            int64
	JobID         int64
	CustomerID    int64
	Status        string
	StartTime     time.Time
	SourceCreated time.Time
	SourceUpdated time.Time
}

// Customer is a mirrored customer record.
type Customer struct {
	ID            int64
	Name          string
	Email         *string
	Phone         *string
	DoNotContact  bool
	SourceUpdated time.Time
}

// Location is a mirrored service location.
type Location struct {
	ID         int64
	CustomerID int64
	Street     string
	City       string
	Zip        string
}

// BusinessUnit is a mirrored business unit.
type BusinessUnit struct {
	ID   int64
	Name string
}
