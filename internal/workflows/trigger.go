package workflows

import (
	"context"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/entities"
	"followup_backend/internal/events"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

// TriggerEvent is the normalized form of a change-feed event that workflow
// instantiation operates on.
type TriggerEvent struct {
	Type       string
	EntityType string
	EntityID   int64
	CustomerID int64
	Payload    map[string]any
}

// Trigger instantiates workflow instances from definitions whose entry
// trigger matches an incoming event. It is the idempotency boundary for the
// at-least-once change feed: a duplicate event never creates a second active
// instance for the same (definition, entity) pair.
type Trigger struct {
	defs  *DefinitionCache
	store repository.InstanceStore
	log   *logger.Logger
}

func NewTrigger(defs *DefinitionCache, store repository.InstanceStore, log *logger.Logger) *Trigger {
	return &Trigger{defs: defs, store: store, log: log}
}

// Handle processes one trigger event.
func (t *Trigger) Handle(ctx context.Context, evt TriggerEvent) error {
	for _, def := range t.defs.ForTrigger(evt.Type) {
		exists, err := t.store.HasActiveInstance(ctx, def.ID, evt.EntityType, evt.EntityID)
		if err != nil {
			t.log.Error("trigger: active-instance check failed", "workflow", def.Name, "error", err)
			continue
		}
		if exists {
			t.log.Debug("trigger: active instance exists, skipping", "workflow", def.Name, "entityId", evt.EntityID)
			continue
		}

		delay := time.Duration(0)
		if len(def.Steps) > 0 {
			d, err := repository.ParseDelay(def.Steps[0].Delay)
			if err != nil {
				t.log.Warn("trigger: invalid first-step delay, scheduling immediately", "workflow", def.Name, "error", err)
			} else {
				delay = d
			}
		}

		id, err := t.store.CreateInstance(ctx, repository.CreateInstanceParams{
			WorkflowID:   def.ID,
			EntityType:   evt.EntityType,
			EntityID:     evt.EntityID,
			CustomerID:   evt.CustomerID,
			NextActionAt: time.Now().Add(delay),
			Context:      evt.Payload,
		})
		if err != nil {
			t.log.Error("trigger: instance creation failed", "workflow", def.Name, "error", err)
			continue
		}
		if id == uuid.Nil {
			// Lost the insert race to a concurrent duplicate event.
			continue
		}

		t.log.Info("workflow instance created",
			"workflow", def.Name, "instanceId", id,
			"entityType", evt.EntityType, "entityId", evt.EntityID)
	}

	return nil
}

// Subscribe registers the trigger against every change-feed event type.
func (t *Trigger) Subscribe(bus events.Bus) {
	subscribe := func(name string, normalize func(events.Event) (TriggerEvent, bool)) {
		bus.Subscribe(name, events.HandlerFunc(func(ctx context.Context, event events.Event) error {
			evt, ok := normalize(event)
			if !ok {
				return nil
			}
			return t.Handle(ctx, evt)
		}))
	}

	subscribe(events.JobCreated{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.JobCreated)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeJob,
			EntityID:   evt.JobID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status, "businessUnitId": evt.BusinessUnitID},
		}, true
	})

	subscribe(events.JobStatusChanged{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.JobStatusChanged)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeJob,
			EntityID:   evt.JobID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status},
		}, true
	})

	subscribe(events.JobCompleted{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.JobCompleted)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeJob,
			EntityID:   evt.JobID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status},
		}, true
	})

	subscribe(events.JobCanceled{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.JobCanceled)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeJob,
			EntityID:   evt.JobID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status},
		}, true
	})

	subscribe(events.EstimateCreated{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.EstimateCreated)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeEstimate,
			EntityID:   evt.EstimateID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status, "jobId": evt.JobID, "totalCents": evt.TotalCents},
		}, true
	})

	subscribe(events.EstimateStatusChanged{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.EstimateStatusChanged)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeEstimate,
			EntityID:   evt.EstimateID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status, "jobId": evt.JobID},
		}, true
	})

	subscribe(events.EstimateSold{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.EstimateSold)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeEstimate,
			EntityID:   evt.EstimateID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"jobId": evt.JobID, "totalCents": evt.TotalCents},
		}, true
	})

	subscribe(events.InvoiceCreated{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.InvoiceCreated)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeInvoice,
			EntityID:   evt.InvoiceID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status, "jobId": evt.JobID, "totalCents": evt.TotalCents},
		}, true
	})

	subscribe(events.AppointmentScheduled{}.EventName(), func(e events.Event) (TriggerEvent, bool) {
		evt, ok := e.(events.AppointmentScheduled)
		if !ok {
			return TriggerEvent{}, false
		}
		return TriggerEvent{
			Type:       evt.EventName(),
			EntityType: entities.TypeAppointment,
			EntityID:   evt.AppointmentID,
			CustomerID: evt.CustomerID,
			Payload:    map[string]any{"status": evt.Status, "jobId": evt.JobID},
		}, true
	})
}
