package stagesync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"followup_backend/internal/stagesync/repository"
	"followup_backend/platform/logger"
)

type fakeRelationshipStore struct {
	rels []repository.JobRelationship

	applied      []appliedMove
	applyErr     error
	linkable     map[int64]int64 // customer id -> service job id
	linked       []uuid.UUID
	patterns     []string
	refreshed    int64
	refreshCalls int
}

type appliedMove struct {
	relID       uuid.UUID
	toStageID   string
	toStageName string
	triggerType string
}

func (f *fakeRelationshipStore) ListForSync(context.Context) ([]repository.JobRelationship, error) {
	return f.rels, nil
}

func (f *fakeRelationshipStore) ApplyStageMove(_ context.Context, relID uuid.UUID, toStageID, toStageName, triggerType string, _ *int64, _ *string) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, appliedMove{relID, toStageID, toStageName, triggerType})
	return nil
}

func (f *fakeRelationshipStore) FindLinkableServiceJob(_ context.Context, customerID int64, _ *int64, unitPatterns []string, _ time.Duration) (int64, string, error) {
	f.patterns = unitPatterns
	if id, ok := f.linkable[customerID]; ok {
		return id, "Scheduled", nil
	}
	return 0, "", repository.ErrNotFound
}

func (f *fakeRelationshipStore) LinkServiceJob(_ context.Context, relID uuid.UUID, _ int64, _ string) error {
	f.linked = append(f.linked, relID)
	return nil
}

func (f *fakeRelationshipStore) RefreshStatuses(context.Context) (int64, error) {
	f.refreshCalls++
	return f.refreshed, nil
}

type fakeMover struct {
	moves   []string
	moveErr error
}

func (f *fakeMover) MoveOpportunityStage(_ context.Context, opportunityID, stageID string) error {
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, opportunityID+"->"+stageID)
	return nil
}

type stubSyncConfig struct {
	autoSync bool
	link     bool
}

func (c stubSyncConfig) IsSyncEnabled() bool                    { return true }
func (c stubSyncConfig) IsStageAutoSyncEnabled() bool           { return c.autoSync }
func (c stubSyncConfig) IsServiceJobLinkEnabled() bool          { return c.link }
func (c stubSyncConfig) GetServiceJobLinkWindow() time.Duration { return 30 * 24 * time.Hour }
func (c stubSyncConfig) GetTrackerSchedule() string             { return "" }
func (c stubSyncConfig) GetStageSyncSchedule() string           { return "" }
func (c stubSyncConfig) GetMirrorSchedule() string              { return "" }
func (c stubSyncConfig) GetRetentionSchedule() string           { return "" }
func (c stubSyncConfig) GetWorkerTimeout() time.Duration        { return time.Minute }
func (c stubSyncConfig) GetWorkerRunRetention() time.Duration   { return time.Hour }

func syncRel(currentStage string, salesStatus, estimateStatus string) repository.JobRelationship {
	rel := repository.JobRelationship{
		ID:               uuid.New(),
		GHLOpportunityID: "opp-" + uuid.NewString()[:8],
		SalesJobID:       100,
		CustomerID:       9,
	}
	if currentStage != "" {
		id := "id-" + currentStage
		rel.CurrentGHLStageID = &id
	}
	if salesStatus != "" {
		rel.SalesJobStatus = &salesStatus
	}
	if estimateStatus != "" {
		rel.SalesEstimateStatus = &estimateStatus
	}
	return rel
}

func TestSyncWorkerMovesForward(t *testing.T) {
	rel := syncRel(StageContacted, "Scheduled", "")
	store := &fakeRelationshipStore{rels: []repository.JobRelationship{rel}}
	mover := &fakeMover{}
	w := NewSyncWorker(store, mover, NewStages(stubCRMConfig{}), stubSyncConfig{autoSync: true}, logger.New("development"))

	out, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(mover.moves) != 1 || mover.moves[0] != rel.GHLOpportunityID+"->id-appointment_scheduled" {
		t.Fatalf("unexpected CRM moves: %v", mover.moves)
	}
	if len(store.applied) != 1 || store.applied[0].toStageName != StageAppointmentScheduled {
		t.Fatalf("unexpected applied moves: %+v", store.applied)
	}
	if store.applied[0].triggerType != "st_sync" {
		t.Fatalf("expected st_sync trigger, got %s", store.applied[0].triggerType)
	}
	if out["moved"] != 1 {
		t.Fatalf("expected moved=1, got %v", out)
	}
	if store.refreshCalls != 1 {
		t.Fatal("status refresh must run every pass")
	}
}

func TestSyncWorkerRejectsBackwardMove(t *testing.T) {
	// Opportunity already sits in job_sold; an Open sales job maps behind it.
	rel := syncRel(StageJobSold, "Open", "")
	store := &fakeRelationshipStore{rels: []repository.JobRelationship{rel}}
	mover := &fakeMover{}
	w := NewSyncWorker(store, mover, NewStages(stubCRMConfig{}), stubSyncConfig{autoSync: true}, logger.New("development"))

	out, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(mover.moves) != 0 {
		t.Fatalf("backward move must not reach the CRM, got %v", mover.moves)
	}
	if out["rejected"] != 1 {
		t.Fatalf("expected rejected=1, got %v", out)
	}
}

func TestSyncWorkerSkipsWhenAlreadyInTarget(t *testing.T) {
	rel := syncRel(StageAppointmentScheduled, "Scheduled", "")
	store := &fakeRelationshipStore{rels: []repository.JobRelationship{rel}}
	mover := &fakeMover{}
	w := NewSyncWorker(store, mover, NewStages(stubCRMConfig{}), stubSyncConfig{autoSync: true}, logger.New("development"))

	out, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mover.moves) != 0 || out["skipped"] != 1 {
		t.Fatalf("expected a skip, got moves=%v stats=%v", mover.moves, out)
	}
}

func TestSyncWorkerCRMFailureCountsError(t *testing.T) {
	rel := syncRel(StageContacted, "Scheduled", "")
	store := &fakeRelationshipStore{rels: []repository.JobRelationship{rel}}
	mover := &fakeMover{moveErr: errors.New("rate limited")}
	w := NewSyncWorker(store, mover, NewStages(stubCRMConfig{}), stubSyncConfig{autoSync: true}, logger.New("development"))

	out, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out["errors"] != 1 {
		t.Fatalf("expected errors=1, got %v", out)
	}
	if len(store.applied) != 0 {
		t.Fatal("a failed CRM move must not be recorded locally")
	}
}

func TestSyncWorkerLinksServiceJob(t *testing.T) {
	linked := syncRel("", "", "Sold")
	store := &fakeRelationshipStore{
		rels:     []repository.JobRelationship{linked},
		linkable: map[int64]int64{9: 777},
	}
	w := NewSyncWorker(store, &fakeMover{}, NewStages(stubCRMConfig{}), stubSyncConfig{link: true}, logger.New("development"))

	out, err := w.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.linked) != 1 || store.linked[0] != linked.ID {
		t.Fatalf("expected the relationship linked, got %v", store.linked)
	}
	if out["linked"] != 1 {
		t.Fatalf("expected linked=1, got %v", out)
	}

	// Both install and service business units are link candidates.
	wantPatterns := map[string]bool{"%install%": false, "%service%": false}
	for _, p := range store.patterns {
		if _, ok := wantPatterns[p]; ok {
			wantPatterns[p] = true
		}
	}
	for p, seen := range wantPatterns {
		if !seen {
			t.Fatalf("expected unit pattern %q in the link query, got %v", p, store.patterns)
		}
	}
}

func TestSyncWorkerUnknownCurrentStagePermitsMove(t *testing.T) {
	// A manually created stage id the config doesn't manage.
	rel := syncRel("", "Scheduled", "")
	custom := "manual-stage-id"
	rel.CurrentGHLStageID = &custom
	store := &fakeRelationshipStore{rels: []repository.JobRelationship{rel}}
	mover := &fakeMover{}
	w := NewSyncWorker(store, mover, NewStages(stubCRMConfig{}), stubSyncConfig{autoSync: true}, logger.New("development"))

	if _, err := w.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(mover.moves) != 1 {
		t.Fatalf("unknown current stage must not wedge the sync, got %v", mover.moves)
	}
}
