package stagesync

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllowTransitionForward(t *testing.T) {
	require.True(t, AllowTransition(StageNewLead, StageContacted))
	require.True(t, AllowTransition(StageContacted, StageProposalSent))
	require.True(t, AllowTransition(StageProposalSent, StageJobSold))

	// Sales into install is always forward.
	require.True(t, AllowTransition(StageJobSold, StageEstimateApproved))
	require.True(t, AllowTransition(StageContacted, StageScheduled))

	// Within the install pipeline.
	require.True(t, AllowTransition(StageScheduled, StageInProgress))
	require.True(t, AllowTransition(StageInProgress, StageCompleted))
	require.True(t, AllowTransition(StageOnHold, StageCompleted))
}

func TestAllowTransitionRejectsBackward(t *testing.T) {
	require.False(t, AllowTransition(StageProposalSent, StageContacted))
	require.False(t, AllowTransition(StageJobSold, StageEstimateFollowup))
	require.False(t, AllowTransition(StageCompleted, StageInProgress))
	require.False(t, AllowTransition(StageEstimateApproved, StageJobSold))
	require.False(t, AllowTransition(StageContacted, StageContacted))
}

func TestAllowTransitionLostOverride(t *testing.T) {
	// Lost is reachable from any pre-sale stage, including ones that sit
	// after it in the raw ordering.
	require.True(t, AllowTransition(StageNewLead, StageEstimateLost))
	require.True(t, AllowTransition(StageEstimateFollowup, StageEstimateLost))

	// A sold opportunity can no longer be lost.
	require.False(t, AllowTransition(StageJobSold, StageEstimateLost))
	require.False(t, AllowTransition(StageScheduled, StageEstimateLost))
}

func TestAllowTransitionUnknownStages(t *testing.T) {
	// A manually created from-stage we don't manage never wedges the sync.
	require.True(t, AllowTransition("custom_nurture", StageJobSold))
	require.True(t, AllowTransition("", StageContacted))

	// But we never move into a stage we don't manage.
	require.False(t, AllowTransition(StageContacted, "custom_nurture"))
	require.False(t, AllowTransition(StageContacted, ""))
}

type stubCRMConfig struct{}

func (stubCRMConfig) GetCRMBaseURL() string           { return "" }
func (stubCRMConfig) GetCRMAPIKey() string            { return "" }
func (stubCRMConfig) GetCRMLocationID() string        { return "" }
func (stubCRMConfig) GetCRMRequestsPerSecond() int    { return 0 }
func (stubCRMConfig) GetCRMStageID(key string) string { return "id-" + key }
func (stubCRMConfig) IsCRMEnabled() bool              { return false }

func TestStagesResolvesBothDirections(t *testing.T) {
	stages := NewStages(stubCRMConfig{})

	require.Equal(t, "id-job_sold", stages.ID(StageJobSold))
	require.Equal(t, StageJobSold, stages.Key("id-job_sold"))
	require.Empty(t, stages.Key("unmanaged-stage-id"))
	require.Empty(t, stages.ID("not_a_stage"))
}
