package workflows

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

func newTestTrigger(t *testing.T, store *fakeStore, defs ...repository.Definition) *Trigger {
	t.Helper()
	cache := NewDefinitionCache(&fakeLister{defs: defs}, logger.New("development"))
	if err := cache.Reload(context.Background()); err != nil {
		t.Fatalf("reload definitions: %v", err)
	}
	return NewTrigger(cache, store, logger.New("development"))
}

func TestTriggerCreatesInstanceWithFirstStepDelay(t *testing.T) {
	def := twoStepDefinition()
	def.Steps[0].Delay = "1d"
	store := &fakeStore{}
	trigger := newTestTrigger(t, store, def)

	evt := TriggerEvent{
		Type:       "estimate.created",
		EntityType: "estimate",
		EntityID:   5,
		CustomerID: 9,
		Payload:    map[string]any{"status": "Open"},
	}
	if err := trigger.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(store.created) != 1 {
		t.Fatalf("expected 1 instance created, got %d", len(store.created))
	}
	created := store.created[0]
	if created.WorkflowID != def.ID || created.EntityID != 5 || created.CustomerID != 9 {
		t.Fatalf("unexpected create params: %+v", created)
	}
	wantAt := time.Now().Add(24 * time.Hour)
	if created.NextActionAt.Before(wantAt.Add(-time.Minute)) || created.NextActionAt.After(wantAt.Add(time.Minute)) {
		t.Fatalf("expected first action roughly 1 day out, got %s", created.NextActionAt)
	}
}

func TestTriggerSkipsWhenActiveInstanceExists(t *testing.T) {
	def := twoStepDefinition()
	store := &fakeStore{hasActive: true}
	trigger := newTestTrigger(t, store, def)

	evt := TriggerEvent{Type: "estimate.created", EntityType: "estimate", EntityID: 5, CustomerID: 9}
	if err := trigger.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(store.created) != 0 {
		t.Fatalf("duplicate event must not create a second instance, got %d", len(store.created))
	}
}

func TestTriggerIgnoresNonMatchingEventType(t *testing.T) {
	def := twoStepDefinition()
	store := &fakeStore{}
	trigger := newTestTrigger(t, store, def)

	evt := TriggerEvent{Type: "job.completed", EntityType: "job", EntityID: 7, CustomerID: 9}
	if err := trigger.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(store.created) != 0 {
		t.Fatalf("non-matching trigger must not instantiate, got %d", len(store.created))
	}
}

func TestTriggerMatchingDefinitionsEachInstantiate(t *testing.T) {
	first := twoStepDefinition()
	second := twoStepDefinition()
	second.ID = uuid.New()
	second.Name = "estimate-nudge"
	store := &fakeStore{}
	trigger := newTestTrigger(t, store, first, second)

	evt := TriggerEvent{Type: "estimate.created", EntityType: "estimate", EntityID: 5, CustomerID: 9}
	if err := trigger.Handle(context.Background(), evt); err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(store.created) != 2 {
		t.Fatalf("expected one instance per matching definition, got %d", len(store.created))
	}
}
