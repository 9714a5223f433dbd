package workflows

import (
	"context"
	"fmt"
	"time"

	"followup_backend/internal/condition"
	"followup_backend/internal/workflows/repository"
	"followup_backend/platform/logger"
)

// ActionExecutor performs one workflow step action. Implementations must be
// idempotent per step execution row: the engine records an execution before
// calling Execute, so a crash between the two leaves an 'executing' row that
// an operator can inspect.
type ActionExecutor interface {
	Execute(ctx context.Context, inst repository.Instance, step repository.Step) (ActionResult, error)
}

// Engine advances due workflow instances. A single engine goroutine owns all
// instance progression; there is no concurrent stepping of the same instance.
type Engine struct {
	store     repository.InstanceStore
	defs      *DefinitionCache
	reader    condition.StateReader
	executor  ActionExecutor
	log       *logger.Logger
	interval  time.Duration
	batchSize int

	cancel context.CancelFunc
	done   chan struct{}
}

func NewEngine(store repository.InstanceStore, defs *DefinitionCache, reader condition.StateReader, executor ActionExecutor, log *logger.Logger, interval time.Duration, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Engine{
		store:     store,
		defs:      defs,
		reader:    reader,
		executor:  executor,
		log:       log,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start launches the tick loop. Call Stop to shut it down.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})

	go func() {
		defer close(e.done)
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.Tick(ctx)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for the in-flight tick to finish.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// Tick processes one batch of due instances. Exported so tests and the worker
// registry can drive the engine without the ticker.
func (e *Engine) Tick(ctx context.Context) {
	if err := e.defs.Reload(ctx); err != nil {
		e.log.Error("engine: definition reload failed", "error", err)
		// Stale definitions are still usable; keep going.
	}

	due, err := e.store.DueInstances(ctx, time.Now(), e.batchSize)
	if err != nil {
		e.log.Error("engine: due-instance query failed", "error", err)
		return
	}

	for _, inst := range due {
		if ctx.Err() != nil {
			return
		}
		if err := e.step(ctx, inst); err != nil {
			e.log.Error("engine: instance step failed",
				"instanceId", inst.ID, "step", inst.CurrentStep, "error", err)
		}
	}
}

// step advances one instance by one step.
func (e *Engine) step(ctx context.Context, inst repository.Instance) error {
	def := e.defs.ByID(inst.WorkflowID)
	if def == nil {
		// Definition disabled or deleted since instantiation.
		return e.store.MarkStopped(ctx, inst.ID, "workflow disabled")
	}

	// Stop conditions run before every step against fresh entity state.
	for _, stop := range def.StopConds {
		if stop.Evaluate(ctx, e.reader, inst.EntityType, inst.EntityID) {
			e.log.Info("workflow instance stopped",
				"instanceId", inst.ID, "workflow", def.Name, "condition", stop.Raw)
			return e.store.MarkStopped(ctx, inst.ID, stop.Raw)
		}
	}

	if inst.CurrentStep >= len(def.Steps) {
		return e.store.MarkCompleted(ctx, inst.ID, false)
	}

	step := def.Steps[inst.CurrentStep]

	// A step whose condition is unparseable or evaluates false is skipped
	// without an execution record or a message increment.
	if step.Condition != "" {
		if def.StepCondInvalid[inst.CurrentStep] {
			e.log.Warn("engine: skipping step with invalid condition",
				"instanceId", inst.ID, "step", inst.CurrentStep, "condition", step.Condition)
			return e.advance(ctx, inst, def, false)
		}
		if cond := def.StepConds[inst.CurrentStep]; cond != nil && !cond.Evaluate(ctx, e.reader, inst.EntityType, inst.EntityID) {
			return e.advance(ctx, inst, def, false)
		}
	}

	execID, err := e.store.CreateStepExecution(ctx, inst.ID, inst.CurrentStep, step.Action)
	if err != nil {
		return fmt.Errorf("create step execution: %w", err)
	}

	result, err := e.executor.Execute(ctx, inst, step)
	if err != nil {
		if ferr := e.store.FailStepExecution(ctx, execID, err.Error()); ferr != nil {
			e.log.Error("engine: failed to record step failure", "executionId", execID, "error", ferr)
		}
		if merr := e.store.MarkFailed(ctx, inst.ID); merr != nil {
			return fmt.Errorf("mark failed: %w", merr)
		}
		return fmt.Errorf("execute step %d (%s): %w", inst.CurrentStep, step.Action, err)
	}

	if err := e.store.CompleteStepExecution(ctx, execID, result.Output); err != nil {
		e.log.Error("engine: failed to record step completion", "executionId", execID, "error", err)
	}

	return e.advance(ctx, inst, def, result.SentMessage)
}

// advance moves the instance past its current step, completing it when the
// step was the last one.
func (e *Engine) advance(ctx context.Context, inst repository.Instance, def *ParsedDefinition, sentMessage bool) error {
	next := inst.CurrentStep + 1
	if next >= len(def.Steps) {
		e.log.Info("workflow instance completed", "instanceId", inst.ID, "workflow", def.Name)
		return e.store.MarkCompleted(ctx, inst.ID, sentMessage)
	}

	delay, err := repository.ParseDelay(def.Steps[next].Delay)
	if err != nil {
		e.log.Warn("engine: invalid step delay, scheduling immediately",
			"instanceId", inst.ID, "step", next, "error", err)
		delay = 0
	}

	return e.store.Advance(ctx, inst.ID, next, time.Now().Add(delay), sentMessage)
}
