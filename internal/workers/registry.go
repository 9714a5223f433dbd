// Package workers provides the cron-driven worker registry. Every scheduled
// background task in the system is a Worker registered here, which buys each
// of them overlap protection, a timeout, and a persisted run history for free.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"followup_backend/internal/workers/repository"
	"followup_backend/platform/logger"
)

// Worker is one scheduled task. Execute receives a context whose deadline is
// the worker's timeout; implementations must honor cancellation so a timed-out
// run actually stops doing work.
type Worker struct {
	Name     string
	Schedule string
	Enabled  bool
	Timeout  time.Duration
	Execute  func(ctx context.Context) (map[string]any, error)
}

type entry struct {
	worker  Worker
	enabled bool
	cronID  cron.EntryID
}

// RunRecorder persists the run history rows the registry writes around each
// execution.
type RunRecorder interface {
	CreateRun(ctx context.Context, workerName, status string) (uuid.UUID, error)
	FinishRun(ctx context.Context, id uuid.UUID, status string, duration time.Duration, result map[string]any, runErr error) error
}

// Registry schedules workers with robfig/cron and guards each against
// overlapping runs: a tick that fires while the previous run is still going
// is skipped, never queued.
type Registry struct {
	cron           *cron.Cron
	runs           RunRecorder
	log            *logger.Logger
	defaultTimeout time.Duration

	mu      sync.Mutex
	workers map[string]*entry
	running map[string]bool

	baseCtx context.Context
}

func NewRegistry(runs RunRecorder, log *logger.Logger, defaultTimeout time.Duration) *Registry {
	return &Registry{
		cron:           cron.New(),
		runs:           runs,
		log:            log,
		defaultTimeout: defaultTimeout,
		workers:        make(map[string]*entry),
		running:        make(map[string]bool),
		baseCtx:        context.Background(),
	}
}

// Register validates the worker's schedule and adds it to the cron. Workers
// with an empty schedule are registered for manual Run calls only.
func (r *Registry) Register(w Worker) error {
	if w.Name == "" {
		return errors.New("worker name is required")
	}
	if w.Execute == nil {
		return fmt.Errorf("worker %s has no execute func", w.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.workers[w.Name]; exists {
		return fmt.Errorf("worker %s already registered", w.Name)
	}

	e := &entry{worker: w, enabled: w.Enabled}

	if w.Schedule != "" {
		if _, err := cron.ParseStandard(w.Schedule); err != nil {
			return fmt.Errorf("worker %s: invalid schedule %q: %w", w.Name, w.Schedule, err)
		}
		name := w.Name
		id, err := r.cron.AddFunc(w.Schedule, func() {
			r.Run(r.baseCtx, name)
		})
		if err != nil {
			return fmt.Errorf("worker %s: schedule: %w", w.Name, err)
		}
		e.cronID = id
	}

	r.workers[w.Name] = e
	r.log.Info("worker registered", "worker", w.Name, "schedule", w.Schedule, "enabled", w.Enabled)
	return nil
}

// Start begins firing schedules. ctx becomes the parent of every scheduled
// run, so canceling it aborts in-flight workers on shutdown.
func (r *Registry) Start(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	r.mu.Unlock()
	r.cron.Start()
}

// Stop halts the schedule and waits for in-flight runs to return.
func (r *Registry) Stop() {
	<-r.cron.Stop().Done()
}

// Enable turns a worker's schedule back on.
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable stops a worker from running until re-enabled. An in-flight run is
// not interrupted.
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.workers[name]
	if !ok {
		return fmt.Errorf("unknown worker %s", name)
	}
	e.enabled = enabled
	r.log.Info("worker toggled", "worker", name, "enabled", enabled)
	return nil
}

// Names returns the registered worker names with their enabled state.
func (r *Registry) Names() map[string]bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]bool, len(r.workers))
	for name, e := range r.workers {
		out[name] = e.enabled
	}
	return out
}

// Run executes a worker by name, enforcing the overlap guard and timeout, and
// records the run. Called by the cron and by the manual-trigger HTTP handler.
func (r *Registry) Run(ctx context.Context, name string) {
	r.mu.Lock()
	e, ok := r.workers[name]
	if !ok {
		r.mu.Unlock()
		r.log.Error("run requested for unknown worker", "worker", name)
		return
	}
	if !e.enabled {
		r.mu.Unlock()
		return
	}
	if r.running[name] {
		r.mu.Unlock()
		r.log.Warn("worker still running, skipping tick", "worker", name)
		if id, err := r.runs.CreateRun(ctx, name, repository.StatusSkipped); err != nil {
			r.log.DatabaseError("worker_runs.create", err)
		} else if err := r.runs.FinishRun(ctx, id, repository.StatusSkipped, 0, nil, nil); err != nil {
			r.log.DatabaseError("worker_runs.finish", err)
		}
		return
	}
	r.running[name] = true
	w := e.worker
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running[name] = false
		r.mu.Unlock()
	}()

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	runID, err := r.runs.CreateRun(ctx, name, repository.StatusRunning)
	if err != nil {
		r.log.DatabaseError("worker_runs.create", err)
		// Still run the worker; history is best-effort.
	}

	start := time.Now()
	result, execErr := w.Execute(runCtx)
	duration := time.Since(start)

	status := repository.StatusSucceeded
	switch {
	case execErr != nil && errors.Is(execErr, context.DeadlineExceeded):
		status = repository.StatusTimedOut
	case execErr != nil:
		status = repository.StatusFailed
	}

	r.log.WorkerRun(name, status, duration.Milliseconds())
	if execErr != nil {
		r.log.Error("worker run failed", "worker", name, "status", status, "error", execErr)
	}

	if runID != uuid.Nil {
		// Use the parent context: the run context may already be expired.
		if err := r.runs.FinishRun(ctx, runID, status, duration, result, execErr); err != nil {
			r.log.DatabaseError("worker_runs.finish", err)
		}
	}
}
