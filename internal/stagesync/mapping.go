package stagesync

import "followup_backend/internal/stagesync/repository"

// Field-service status values the mappings recognize. The platform reports
// more statuses than these; anything unmapped resolves to no target stage,
// which the sync worker treats as a no-op.
const (
	jobStatusOpen       = "Open"
	jobStatusScheduled  = "Scheduled"
	jobStatusDispatched = "Dispatched"
	jobStatusInProgress = "InProgress"
	jobStatusHold       = "Hold"
	jobStatusCompleted  = "Completed"
	jobStatusCanceled   = "Canceled"

	estimateStatusOpen      = "Open"
	estimateStatusSold      = "Sold"
	estimateStatusDismissed = "Dismissed"
	estimateStatusExpired   = "Expired"
	estimateStatusLost      = "Lost"
)

// salesJobStage maps a sales-side job status to a sales pipeline stage.
var salesJobStage = map[string]string{
	jobStatusOpen:       StageContacted,
	jobStatusScheduled:  StageAppointmentScheduled,
	jobStatusDispatched: StageAppointmentScheduled,
	jobStatusInProgress: StageAppointmentScheduled,
	jobStatusCompleted:  StageProposalSent,
	jobStatusCanceled:   StageEstimateLost,
}

// estimateStage maps an estimate status to a sales pipeline stage.
var estimateStage = map[string]string{
	estimateStatusOpen:      StageEstimateFollowup,
	estimateStatusSold:      StageJobSold,
	estimateStatusDismissed: StageEstimateLost,
	estimateStatusExpired:   StageEstimateLost,
	estimateStatusLost:      StageEstimateLost,
}

// serviceJobStage maps a linked install/service job status to an install
// pipeline stage.
var serviceJobStage = map[string]string{
	jobStatusOpen:       StagePreInstallPlanning,
	jobStatusScheduled:  StageScheduled,
	jobStatusDispatched: StageInProgress,
	jobStatusInProgress: StageInProgress,
	jobStatusHold:       StageOnHold,
	jobStatusCompleted:  StageCompleted,
}

// Target is a resolved stage computation: which stage key to move to and
// which status triggered it.
type Target struct {
	StageKey      string
	TriggerStatus string
	TriggerJobID  int64
}

// TargetStage computes the stage a relationship should be in from its
// current sales/service/estimate statuses. Priority: the linked service job
// drives the install pipeline; a terminal estimate outcome (Sold/Lost) beats
// the sales job; the sales job beats a non-terminal estimate.
func TargetStage(rel repository.JobRelationship) (Target, bool) {
	if rel.ServiceJobID != nil && rel.ServiceJobStatus != nil {
		if key, ok := serviceJobStage[*rel.ServiceJobStatus]; ok {
			return Target{StageKey: key, TriggerStatus: *rel.ServiceJobStatus, TriggerJobID: *rel.ServiceJobID}, true
		}
	}

	if rel.SalesEstimateStatus != nil {
		if key, ok := estimateStage[*rel.SalesEstimateStatus]; ok && (key == StageJobSold || key == StageEstimateLost) {
			return Target{StageKey: key, TriggerStatus: *rel.SalesEstimateStatus, TriggerJobID: rel.SalesJobID}, true
		}
	}

	if rel.SalesJobStatus != nil {
		if key, ok := salesJobStage[*rel.SalesJobStatus]; ok {
			return Target{StageKey: key, TriggerStatus: *rel.SalesJobStatus, TriggerJobID: rel.SalesJobID}, true
		}
	}

	if rel.SalesEstimateStatus != nil {
		if key, ok := estimateStage[*rel.SalesEstimateStatus]; ok {
			return Target{StageKey: key, TriggerStatus: *rel.SalesEstimateStatus, TriggerJobID: rel.SalesJobID}, true
		}
	}

	return Target{}, false
}
