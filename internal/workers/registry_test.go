package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/workers/repository"
	"followup_backend/platform/logger"
)

type recordedRun struct {
	worker string
	status string
}

type fakeRuns struct {
	mu       sync.Mutex
	created  []recordedRun
	finished []recordedRun
}

func (f *fakeRuns) CreateRun(_ context.Context, workerName, status string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, recordedRun{workerName, status})
	return uuid.New(), nil
}

func (f *fakeRuns) FinishRun(_ context.Context, _ uuid.UUID, status string, _ time.Duration, _ map[string]any, _ error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, recordedRun{"", status})
	return nil
}

func (f *fakeRuns) finishedStatuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.finished))
	for i, r := range f.finished {
		out[i] = r.status
	}
	return out
}

func newTestRegistry(runs *fakeRuns) *Registry {
	return NewRegistry(runs, logger.New("development"), time.Minute)
}

func TestRegisterRejectsBadWorkers(t *testing.T) {
	r := newTestRegistry(&fakeRuns{})

	if err := r.Register(Worker{Name: "", Execute: func(context.Context) (map[string]any, error) { return nil, nil }}); err == nil {
		t.Fatal("expected error for empty name")
	}
	if err := r.Register(Worker{Name: "no-exec"}); err == nil {
		t.Fatal("expected error for missing execute func")
	}
	if err := r.Register(Worker{Name: "bad-cron", Schedule: "not a schedule", Execute: func(context.Context) (map[string]any, error) { return nil, nil }}); err == nil {
		t.Fatal("expected error for invalid schedule")
	}

	ok := Worker{Name: "tracker", Schedule: "*/5 * * * *", Enabled: true, Execute: func(context.Context) (map[string]any, error) { return nil, nil }}
	if err := r.Register(ok); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ok); err == nil {
		t.Fatal("expected error for duplicate name")
	}
}

func TestRunRecordsSuccess(t *testing.T) {
	runs := &fakeRuns{}
	r := newTestRegistry(runs)

	executed := 0
	if err := r.Register(Worker{Name: "tracker", Enabled: true, Execute: func(context.Context) (map[string]any, error) {
		executed++
		return map[string]any{"discovered": 3}, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Run(context.Background(), "tracker")

	if executed != 1 {
		t.Fatalf("expected 1 execution, got %d", executed)
	}
	if got := runs.finishedStatuses(); len(got) != 1 || got[0] != repository.StatusSucceeded {
		t.Fatalf("expected succeeded run record, got %v", got)
	}
}

func TestRunRecordsFailure(t *testing.T) {
	runs := &fakeRuns{}
	r := newTestRegistry(runs)

	if err := r.Register(Worker{Name: "sync", Enabled: true, Execute: func(context.Context) (map[string]any, error) {
		return nil, errors.New("crm unavailable")
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Run(context.Background(), "sync")

	if got := runs.finishedStatuses(); len(got) != 1 || got[0] != repository.StatusFailed {
		t.Fatalf("expected failed run record, got %v", got)
	}
}

func TestRunTimeoutRecordsTimedOut(t *testing.T) {
	runs := &fakeRuns{}
	r := newTestRegistry(runs)

	if err := r.Register(Worker{Name: "slow", Enabled: true, Timeout: 10 * time.Millisecond, Execute: func(ctx context.Context) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Run(context.Background(), "slow")

	if got := runs.finishedStatuses(); len(got) != 1 || got[0] != repository.StatusTimedOut {
		t.Fatalf("expected timed_out run record, got %v", got)
	}
}

func TestRunSkipsDisabledWorker(t *testing.T) {
	runs := &fakeRuns{}
	r := newTestRegistry(runs)

	executed := 0
	if err := r.Register(Worker{Name: "mirror", Enabled: false, Execute: func(context.Context) (map[string]any, error) {
		executed++
		return nil, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	r.Run(context.Background(), "mirror")
	if executed != 0 {
		t.Fatal("disabled worker must not run")
	}

	if err := r.Enable("mirror"); err != nil {
		t.Fatalf("enable: %v", err)
	}
	r.Run(context.Background(), "mirror")
	if executed != 1 {
		t.Fatal("enabled worker should run")
	}

	if err := r.Disable("mirror"); err != nil {
		t.Fatalf("disable: %v", err)
	}
	r.Run(context.Background(), "mirror")
	if executed != 1 {
		t.Fatal("re-disabled worker must not run")
	}
}

func TestRunOverlapGuardSkipsConcurrentRun(t *testing.T) {
	runs := &fakeRuns{}
	r := newTestRegistry(runs)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := r.Register(Worker{Name: "tracker", Enabled: true, Execute: func(context.Context) (map[string]any, error) {
		close(started)
		<-release
		return nil, nil
	}}); err != nil {
		t.Fatalf("register: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(context.Background(), "tracker")
	}()
	<-started

	// Second run while the first is in flight: skipped, recorded as such.
	r.Run(context.Background(), "tracker")

	close(release)
	<-done

	statuses := runs.finishedStatuses()
	var skipped, succeeded int
	for _, s := range statuses {
		switch s {
		case repository.StatusSkipped:
			skipped++
		case repository.StatusSucceeded:
			succeeded++
		}
	}
	if skipped != 1 || succeeded != 1 {
		t.Fatalf("expected one skipped and one succeeded run, got %v", statuses)
	}
}

func TestNamesReportsEnabledState(t *testing.T) {
	r := newTestRegistry(&fakeRuns{})
	noop := func(context.Context) (map[string]any, error) { return nil, nil }

	if err := r.Register(Worker{Name: "tracker", Enabled: true, Execute: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Worker{Name: "mirror", Enabled: false, Execute: noop}); err != nil {
		t.Fatalf("register: %v", err)
	}

	names := r.Names()
	if !names["tracker"] || names["mirror"] {
		t.Fatalf("unexpected enabled states: %v", names)
	}
	if err := r.Enable("nope"); err == nil {
		t.Fatal("expected error for unknown worker")
	}
}
