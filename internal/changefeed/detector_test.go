package changefeed

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"followup_backend/internal/entities"
	"followup_backend/internal/events"
	"followup_backend/platform/logger"
)

type fakeSource struct {
	jobs         []entities.Job
	jobsErr      error
	estimates    []entities.Estimate
	invoices     []entities.Invoice
	appointments []entities.Appointment
}

// JobsChangedSince applies the real query's window and LIMIT semantics so
// batch-boundary behavior is observable.
func (f *fakeSource) JobsChangedSince(_ context.Context, since time.Time, limit int) ([]entities.Job, error) {
	if f.jobsErr != nil {
		return nil, f.jobsErr
	}
	var out []entities.Job
	for _, j := range f.jobs {
		if j.SourceUpdated.After(since) || j.SourceCreated.After(since) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].SourceUpdated.Before(out[k].SourceUpdated) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSource) EstimatesChangedSince(context.Context, time.Time, int) ([]entities.Estimate, error) {
	return f.estimates, nil
}

func (f *fakeSource) InvoicesChangedSince(context.Context, time.Time, int) ([]entities.Invoice, error) {
	return f.invoices, nil
}

func (f *fakeSource) AppointmentsChangedSince(context.Context, time.Time, int) ([]entities.Appointment, error) {
	return f.appointments, nil
}

type fakeWatermarks struct {
	mu       sync.Mutex
	marks    map[string]time.Time
	advanced map[string]time.Time
}

func newFakeWatermarks(since time.Time) *fakeWatermarks {
	return &fakeWatermarks{
		marks: map[string]time.Time{
			entities.TypeJob:         since,
			entities.TypeEstimate:    since,
			entities.TypeInvoice:     since,
			entities.TypeAppointment: since,
		},
		advanced: make(map[string]time.Time),
	}
}

func (f *fakeWatermarks) Get(_ context.Context, entityType string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marks[entityType], nil
}

func (f *fakeWatermarks) Advance(_ context.Context, entityType string, mark time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marks[entityType] = mark
	f.advanced[entityType] = mark
	return nil
}

type recordingBus struct {
	mu    sync.Mutex
	names []string
}

func (b *recordingBus) Publish(context.Context, events.Event) {}

func (b *recordingBus) PublishSync(_ context.Context, evt events.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names = append(b.names, evt.EventName())
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) published() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]int)
	for _, name := range b.names {
		out[name]++
	}
	return out
}

func TestTickPublishesAndAdvancesWatermarks(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	source := &fakeSource{
		jobs:      []entities.Job{{ID: 1, Status: "Open", SourceCreated: time.Now()}},
		estimates: []entities.Estimate{{ID: 2, JobID: 1, Status: "Sold", SourceCreated: time.Now().Add(-time.Hour)}},
		invoices:  []entities.Invoice{{ID: 3, JobID: 1, SourceCreated: time.Now()}},
	}
	marks := newFakeWatermarks(since)
	bus := &recordingBus{}

	d := NewDetector(source, marks, bus, logger.New("development"), time.Minute, 100)
	d.Tick(context.Background())

	got := bus.published()
	for _, name := range []string{"job.created", "estimate.status_changed", "estimate.sold", "invoice.created"} {
		if got[name] != 1 {
			t.Fatalf("expected %s published once, got %d (all: %v)", name, got[name], got)
		}
	}

	for _, entityType := range []string{entities.TypeJob, entities.TypeEstimate, entities.TypeInvoice, entities.TypeAppointment} {
		mark, ok := marks.advanced[entityType]
		if !ok {
			t.Fatalf("expected %s watermark advanced", entityType)
		}
		if !mark.After(since) {
			t.Fatalf("expected %s watermark past the previous mark", entityType)
		}
	}
}

func TestTickFailedPassLeavesWatermark(t *testing.T) {
	since := time.Now().Add(-time.Minute)
	source := &fakeSource{
		jobsErr:      errors.New("connection reset"),
		appointments: []entities.Appointment{{ID: 4, JobID: 1, SourceCreated: time.Now()}},
	}
	marks := newFakeWatermarks(since)
	bus := &recordingBus{}

	d := NewDetector(source, marks, bus, logger.New("development"), time.Minute, 100)
	d.Tick(context.Background())

	if _, ok := marks.advanced[entities.TypeJob]; ok {
		t.Fatal("job watermark must not advance when the pass fails")
	}
	if _, ok := marks.advanced[entities.TypeAppointment]; !ok {
		t.Fatal("appointment pass should advance independently of the failed job pass")
	}
	if got := bus.published(); got["appointment.scheduled"] != 1 {
		t.Fatalf("expected appointment.scheduled published once, got %v", got)
	}
}

func TestFullBatchLeavesRemainderForNextTick(t *testing.T) {
	since := time.Now().Add(-time.Hour)
	t1 := since.Add(10 * time.Minute)
	t2 := since.Add(20 * time.Minute)
	t3 := since.Add(30 * time.Minute)
	source := &fakeSource{
		jobs: []entities.Job{
			{ID: 1, Status: "Open", SourceCreated: t1, SourceUpdated: t1},
			{ID: 2, Status: "Open", SourceCreated: t2, SourceUpdated: t2},
			{ID: 3, Status: "Open", SourceCreated: t3, SourceUpdated: t3},
		},
	}
	marks := newFakeWatermarks(since)
	bus := &recordingBus{}

	d := NewDetector(source, marks, bus, logger.New("development"), time.Minute, 2)
	d.Tick(context.Background())

	if got := bus.published(); got["job.created"] != 2 {
		t.Fatalf("expected 2 job.created after the first tick, got %v", got)
	}
	if mark := marks.advanced[entities.TypeJob]; !mark.Equal(t2) {
		t.Fatalf("full batch must checkpoint the last processed row (%v), got %v", t2, mark)
	}

	d.Tick(context.Background())

	if got := bus.published(); got["job.created"] != 3 {
		t.Fatalf("expected the third job in the second window, got %v", got)
	}
	if mark := marks.advanced[entities.TypeJob]; !mark.After(t3) {
		t.Fatalf("short batch should checkpoint past the newest row, got %v", mark)
	}
}
