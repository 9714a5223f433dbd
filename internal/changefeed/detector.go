// Package changefeed discovers new and changed business entities by polling
// the mirrored store. There is no native change feed on the field-service
// platform, so polling behind a persisted per-type watermark substitutes for
// a log. Delivery is at-least-once: subscribers must be idempotent.
package changefeed

import (
	"context"
	"time"

	"followup_backend/internal/entities"
	"followup_backend/internal/events"
	"followup_backend/platform/logger"

	"golang.org/x/sync/errgroup"
)

// ChangeSource is the slice of the entity store the detector reads.
// Satisfied by entities.Repository.
type ChangeSource interface {
	JobsChangedSince(ctx context.Context, since time.Time, limit int) ([]entities.Job, error)
	EstimatesChangedSince(ctx context.Context, since time.Time, limit int) ([]entities.Estimate, error)
	InvoicesChangedSince(ctx context.Context, since time.Time, limit int) ([]entities.Invoice, error)
	AppointmentsChangedSince(ctx context.Context, since time.Time, limit int) ([]entities.Appointment, error)
}

// Watermarks is the checkpoint store contract used by the detector.
type Watermarks interface {
	Get(ctx context.Context, entityType string) (time.Time, error)
	Advance(ctx context.Context, entityType string, mark time.Time) error
}

// Detector polls the store on a fixed interval and publishes typed events for
// every row created or transitioned since the per-type watermark.
type Detector struct {
	source    ChangeSource
	marks     Watermarks
	bus       events.Bus
	log       *logger.Logger
	interval  time.Duration
	batchSize int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewDetector(source ChangeSource, marks Watermarks, bus events.Bus, log *logger.Logger, interval time.Duration, batchSize int) *Detector {
	if batchSize < 1 {
		batchSize = 200
	}
	return &Detector{
		source:    source,
		marks:     marks,
		bus:       bus,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start begins the polling loop. It returns immediately; polling runs until
// Stop is called or the parent context is cancelled.
func (d *Detector) Start(ctx context.Context) {
	if d.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)

		ticker := time.NewTicker(d.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			d.Tick(ctx)
		}
	}()
}

// Stop halts polling and waits for an in-flight tick to finish.
func (d *Detector) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
	d.cancel = nil
}

// Tick runs one detection pass per monitored entity type, concurrently.
// A failure in one type's pass is logged and leaves that type's watermark in
// place, so the next tick retries with an overlapping window. Other types are
// unaffected.
func (d *Detector) Tick(ctx context.Context) {
	g, gctx := errgroup.WithContext(ctx)

	for _, pass := range []struct {
		entityType string
		run        func(context.Context, time.Time) (passResult, error)
	}{
		{entities.TypeJob, d.jobsPass},
		{entities.TypeEstimate, d.estimatesPass},
		{entities.TypeInvoice, d.invoicesPass},
		{entities.TypeAppointment, d.appointmentsPass},
	} {
		pass := pass
		g.Go(func() error {
			if err := d.runPass(gctx, pass.entityType, pass.run); err != nil {
				d.log.Error("change detection pass failed",
					"entityType", pass.entityType, "error", err)
			}
			// Pass errors never abort sibling passes.
			return nil
		})
	}

	_ = g.Wait()
}

// passResult is one pass over a single entity type. fetched counts rows
// returned by the source; lastMark is the source_updated_at of the final
// (newest) processed row.
type passResult struct {
	events   int
	fetched  int
	lastMark time.Time
}

func (d *Detector) runPass(ctx context.Context, entityType string, run func(context.Context, time.Time) (passResult, error)) error {
	since, err := d.marks.Get(ctx, entityType)
	if err != nil {
		return err
	}

	// Capture "now" before querying: rows modified during the pass fall into
	// the next window (and may be redelivered, which is safe).
	passStart := time.Now().UTC()

	res, err := run(ctx, since)
	if err != nil {
		return err
	}

	if res.events > 0 {
		d.log.Debug("change detection pass", "entityType", entityType, "events", res.events)
	}

	// A full batch may have left rows behind the LIMIT. Checkpoint only as
	// far as the newest processed row so the remainder lands in the next
	// window instead of being skipped forever.
	mark := passStart
	if res.fetched >= d.batchSize && res.lastMark.After(since) {
		mark = res.lastMark
	}

	return d.marks.Advance(ctx, entityType, mark)
}

func (d *Detector) jobsPass(ctx context.Context, since time.Time) (passResult, error) {
	rows, err := d.source.JobsChangedSince(ctx, since, d.batchSize)
	if err != nil {
		return passResult{}, err
	}
	var res passResult
	res.fetched = len(rows)
	for _, row := range rows {
		res.events += d.publishAll(ctx, classifyJob(row, since))
		res.lastMark = row.SourceUpdated
	}
	return res, nil
}

func (d *Detector) estimatesPass(ctx context.Context, since time.Time) (passResult, error) {
	rows, err := d.source.EstimatesChangedSince(ctx, since, d.batchSize)
	if err != nil {
		return passResult{}, err
	}
	var res passResult
	res.fetched = len(rows)
	for _, row := range rows {
		res.events += d.publishAll(ctx, classifyEstimate(row, since))
		res.lastMark = row.SourceUpdated
	}
	return res, nil
}

func (d *Detector) invoicesPass(ctx context.Context, since time.Time) (passResult, error) {
	rows, err := d.source.InvoicesChangedSince(ctx, since, d.batchSize)
	if err != nil {
		return passResult{}, err
	}
	var res passResult
	res.fetched = len(rows)
	for _, row := range rows {
		res.events += d.publishAll(ctx, classifyInvoice(row, since))
		res.lastMark = row.SourceUpdated
	}
	return res, nil
}

func (d *Detector) appointmentsPass(ctx context.Context, since time.Time) (passResult, error) {
	rows, err := d.source.AppointmentsChangedSince(ctx, since, d.batchSize)
	if err != nil {
		return passResult{}, err
	}
	var res passResult
	res.fetched = len(rows)
	for _, row := range rows {
		res.events += d.publishAll(ctx, classifyAppointment(row, since))
		res.lastMark = row.SourceUpdated
	}
	return res, nil
}

// publishAll delivers events synchronously so the watermark only advances
// after subscribers (the trigger layer) have observed the batch. Subscriber
// errors are logged by the bus and do not fail the pass; the instantiation
// idempotency boundary tolerates redelivery.
func (d *Detector) publishAll(ctx context.Context, evts []events.Event) int {
	for _, evt := range evts {
		_ = d.bus.PublishSync(ctx, evt)
	}
	return len(evts)
}
