package workflows

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

type fakeStore struct {
	instances []repository.Instance

	created       []repository.CreateInstanceParams
	createID      uuid.UUID
	hasActive     bool
	hasActiveErr  error
	advanced      []advanceCall
	completed     []completeCall
	stopped       []stopCall
	failed        []uuid.UUID
	executions    []executionCall
	execCompleted []uuid.UUID
	execFailed    []uuid.UUID
}

type advanceCall struct {
	id           uuid.UUID
	nextStep     int
	nextActionAt time.Time
	increment    bool
}

type completeCall struct {
	id        uuid.UUID
	increment bool
}

type stopCall struct {
	id     uuid.UUID
	reason string
}

type executionCall struct {
	id         uuid.UUID
	instanceID uuid.UUID
	stepNumber int
	action     string
}

func (f *fakeStore) CreateInstance(_ context.Context, p repository.CreateInstanceParams) (uuid.UUID, error) {
	f.created = append(f.created, p)
	if f.createID == uuid.Nil {
		return uuid.New(), nil
	}
	return f.createID, nil
}

func (f *fakeStore) HasActiveInstance(context.Context, uuid.UUID, string, int64) (bool, error) {
	return f.hasActive, f.hasActiveErr
}

func (f *fakeStore) DueInstances(context.Context, time.Time, int) ([]repository.Instance, error) {
	return f.instances, nil
}

func (f *fakeStore) Advance(_ context.Context, id uuid.UUID, nextStep int, nextActionAt time.Time, increment bool) error {
	f.advanced = append(f.advanced, advanceCall{id, nextStep, nextActionAt, increment})
	return nil
}

func (f *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID, increment bool) error {
	f.completed = append(f.completed, completeCall{id, increment})
	return nil
}

func (f *fakeStore) MarkStopped(_ context.Context, id uuid.UUID, reason string) error {
	f.stopped = append(f.stopped, stopCall{id, reason})
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeStore) CreateStepExecution(_ context.Context, instanceID uuid.UUID, stepNumber int, action string) (uuid.UUID, error) {
	id := uuid.New()
	f.executions = append(f.executions, executionCall{id, instanceID, stepNumber, action})
	return id, nil
}

func (f *fakeStore) CompleteStepExecution(_ context.Context, id uuid.UUID, _ map[string]any) error {
	f.execCompleted = append(f.execCompleted, id)
	return nil
}

func (f *fakeStore) FailStepExecution(_ context.Context, id uuid.UUID, _ string) error {
	f.execFailed = append(f.execFailed, id)
	return nil
}

type fakeLister struct {
	defs []repository.Definition
}

func (f *fakeLister) ListEnabledDefinitions(context.Context) ([]repository.Definition, error) {
	return f.defs, nil
}

type fakeExecutor struct {
	result ActionResult
	err    error
	calls  int
}

func (f *fakeExecutor) Execute(context.Context, repository.Instance, repository.Step) (ActionResult, error) {
	f.calls++
	return f.result, f.err
}

type fixedReader struct {
	state map[string]map[string]any
}

func (r fixedReader) EntityState(context.Context, string, int64) (map[string]map[string]any, error) {
	return r.state, nil
}

func newTestEngine(t *testing.T, def repository.Definition, inst repository.Instance, reader fixedReader, executor *fakeExecutor) (*Engine, *fakeStore) {
	t.Helper()
	store := &fakeStore{instances: []repository.Instance{inst}}
	defs := NewDefinitionCache(&fakeLister{defs: []repository.Definition{def}}, logger.New("development"))
	engine := NewEngine(store, defs, reader, executor, logger.New("development"), time.Minute, 10)
	return engine, store
}

func twoStepDefinition() repository.Definition {
	return repository.Definition{
		ID:          uuid.New(),
		Name:        "estimate-followup",
		TriggerType: "estimate.created",
		Steps: []repository.Step{
			{Action: "Hi {first_name}, your estimate is ready.", Delay: "0"},
			{Action: "Checking in about your estimate.", Delay: "2d", Condition: "estimate.status == 'Open'"},
		},
		StopConditions: []string{"estimate.status == 'Sold'"},
		Enabled:        true,
	}
}

func TestEngineExecutesStepAndSchedulesNext(t *testing.T) {
	def := twoStepDefinition()
	inst := repository.Instance{ID: uuid.New(), WorkflowID: def.ID, EntityType: "estimate", EntityID: 5, CurrentStep: 0}
	reader := fixedReader{state: map[string]map[string]any{"estimate": {"status": "Open"}}}
	executor := &fakeExecutor{result: ActionResult{SentMessage: true}}

	engine, store := newTestEngine(t, def, inst, reader, executor)
	engine.Tick(context.Background())

	if executor.calls != 1 {
		t.Fatalf("expected 1 executor call, got %d", executor.calls)
	}
	if len(store.executions) != 1 || store.executions[0].stepNumber != 0 {
		t.Fatalf("expected one execution record for step 0, got %+v", store.executions)
	}
	if len(store.execCompleted) != 1 {
		t.Fatalf("expected execution marked complete, got %d", len(store.execCompleted))
	}
	if len(store.advanced) != 1 {
		t.Fatalf("expected one advance, got %d", len(store.advanced))
	}
	adv := store.advanced[0]
	if adv.nextStep != 1 || !adv.increment {
		t.Fatalf("expected advance to step 1 with message increment, got %+v", adv)
	}
	wantAt := time.Now().Add(48 * time.Hour)
	if adv.nextActionAt.Before(wantAt.Add(-time.Minute)) || adv.nextActionAt.After(wantAt.Add(time.Minute)) {
		t.Fatalf("expected next action roughly 2 days out, got %s", adv.nextActionAt)
	}
}

func TestEngineStopConditionHaltsBeforeStep(t *testing.T) {
	def := twoStepDefinition()
	inst := repository.Instance{ID: uuid.New(), WorkflowID: def.ID, EntityType: "estimate", EntityID: 5, CurrentStep: 1}
	reader := fixedReader{state: map[string]map[string]any{"estimate": {"status": "Sold"}}}
	executor := &fakeExecutor{}

	engine, store := newTestEngine(t, def, inst, reader, executor)
	engine.Tick(context.Background())

	if executor.calls != 0 {
		t.Fatalf("stop condition must prevent execution, got %d calls", executor.calls)
	}
	if len(store.stopped) != 1 || store.stopped[0].reason != "estimate.status == 'Sold'" {
		t.Fatalf("expected instance stopped with the condition text, got %+v", store.stopped)
	}
	if len(store.executions) != 0 {
		t.Fatal("no execution record should exist for a stopped instance")
	}
}

func TestEngineFalseStepConditionSkipsWithoutExecution(t *testing.T) {
	def := twoStepDefinition()
	inst := repository.Instance{ID: uuid.New(), WorkflowID: def.ID, EntityType: "estimate", EntityID: 5, CurrentStep: 1}
	// Dismissed fails the step condition but not the stop condition.
	reader := fixedReader{state: map[string]map[string]any{"estimate": {"status": "Dismissed"}}}
	executor := &fakeExecutor{}

	engine, store := newTestEngine(t, def, inst, reader, executor)
	engine.Tick(context.Background())

	if executor.calls != 0 {
		t.Fatalf("false step condition must skip the action, got %d calls", executor.calls)
	}
	if len(store.executions) != 0 {
		t.Fatal("skipped step must not create an execution record")
	}
	// Step 1 was the last step, so the skip completes the instance without a
	// message increment.
	if len(store.completed) != 1 || store.completed[0].increment {
		t.Fatalf("expected completion without message increment, got %+v", store.completed)
	}
}

func TestEngineExecutorFailureMarksInstanceFailed(t *testing.T) {
	def := twoStepDefinition()
	inst := repository.Instance{ID: uuid.New(), WorkflowID: def.ID, EntityType: "estimate", EntityID: 5, CurrentStep: 0}
	reader := fixedReader{state: map[string]map[string]any{"estimate": {"status": "Open"}}}
	executor := &fakeExecutor{err: errors.New("gateway unavailable")}

	engine, store := newTestEngine(t, def, inst, reader, executor)
	engine.Tick(context.Background())

	if len(store.execFailed) != 1 {
		t.Fatalf("expected failed execution record, got %d", len(store.execFailed))
	}
	if len(store.failed) != 1 || store.failed[0] != inst.ID {
		t.Fatalf("expected instance marked failed, got %+v", store.failed)
	}
	if len(store.advanced) != 0 {
		t.Fatal("failed instance must not advance")
	}
}

func TestEngineUnknownDefinitionStopsInstance(t *testing.T) {
	def := twoStepDefinition()
	orphan := repository.Instance{ID: uuid.New(), WorkflowID: uuid.New(), EntityType: "estimate", EntityID: 5}
	reader := fixedReader{state: map[string]map[string]any{}}

	engine, store := newTestEngine(t, def, orphan, reader, &fakeExecutor{})
	engine.Tick(context.Background())

	if len(store.stopped) != 1 || store.stopped[0].reason != "workflow disabled" {
		t.Fatalf("expected orphaned instance stopped, got %+v", store.stopped)
	}
}

func TestEnginePastEndCompletes(t *testing.T) {
	def := twoStepDefinition()
	inst := repository.Instance{ID: uuid.New(), WorkflowID: def.ID, EntityType: "estimate", EntityID: 5, CurrentStep: 2}
	reader := fixedReader{state: map[string]map[string]any{"estimate": {"status": "Open"}}}

	engine, store := newTestEngine(t, def, inst, reader, &fakeExecutor{})
	engine.Tick(context.Background())

	if len(store.completed) != 1 {
		t.Fatalf("expected instance completed, got %+v", store.completed)
	}
}
