package stagesync

import (
	"testing"

	"github.com/stretchr/testify/require"

	"followup_backend/internal/stagesync/repository"
)

func relWith(salesJob, estimate, serviceJob string) repository.JobRelationship {
	rel := repository.JobRelationship{SalesJobID: 100}
	if salesJob != "" {
		rel.SalesJobStatus = &salesJob
	}
	if estimate != "" {
		rel.SalesEstimateStatus = &estimate
	}
	if serviceJob != "" {
		id := int64(200)
		rel.ServiceJobID = &id
		rel.ServiceJobStatus = &serviceJob
	}
	return rel
}

func TestTargetStageServiceJobWins(t *testing.T) {
	rel := relWith("Completed", "Sold", "Scheduled")

	target, ok := TargetStage(rel)
	require.True(t, ok)
	require.Equal(t, StageScheduled, target.StageKey)
	require.Equal(t, int64(200), target.TriggerJobID)
	require.Equal(t, "Scheduled", target.TriggerStatus)
}

func TestTargetStageTerminalEstimateBeatsSalesJob(t *testing.T) {
	target, ok := TargetStage(relWith("Completed", "Sold", ""))
	require.True(t, ok)
	require.Equal(t, StageJobSold, target.StageKey)
	require.Equal(t, int64(100), target.TriggerJobID)

	target, ok = TargetStage(relWith("Completed", "Dismissed", ""))
	require.True(t, ok)
	require.Equal(t, StageEstimateLost, target.StageKey)
}

func TestTargetStageSalesJobBeatsOpenEstimate(t *testing.T) {
	target, ok := TargetStage(relWith("Scheduled", "Open", ""))
	require.True(t, ok)
	require.Equal(t, StageAppointmentScheduled, target.StageKey)
	require.Equal(t, "Scheduled", target.TriggerStatus)
}

func TestTargetStageEstimateFallback(t *testing.T) {
	target, ok := TargetStage(relWith("", "Open", ""))
	require.True(t, ok)
	require.Equal(t, StageEstimateFollowup, target.StageKey)
}

func TestTargetStageNoMappableStatus(t *testing.T) {
	_, ok := TargetStage(relWith("", "", ""))
	require.False(t, ok)

	// Unmapped statuses resolve to no target rather than a wrong stage.
	_, ok = TargetStage(relWith("SomeNewStatus", "", ""))
	require.False(t, ok)
}

func TestTargetStageUnmappedServiceStatusFallsThrough(t *testing.T) {
	// A canceled service job has no install-stage mapping; the estimate
	// outcome still drives the sales pipeline.
	target, ok := TargetStage(relWith("Completed", "Sold", "Canceled"))
	require.True(t, ok)
	require.Equal(t, StageJobSold, target.StageKey)
}

func TestExtractJobID(t *testing.T) {
	id, ok := extractJobID("Jamie Rivera - Job #4213 - HVAC replacement")
	require.True(t, ok)
	require.Equal(t, int64(4213), id)

	_, ok = extractJobID("Jamie Rivera - HVAC replacement")
	require.False(t, ok)

	_, ok = extractJobID("")
	require.False(t, ok)
}
