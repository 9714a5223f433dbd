// Package stagesync keeps CRM pipeline opportunity stages in step with
// job/estimate status in the field-service platform. Transitions are
// forward-only: stale polling results can never silently revert a manual
// CRM edit.
package stagesync

import "followup_backend/platform/config"

// Stage keys. Stable internal names for pipeline positions; the external
// stage ids they map to come from configuration.
const (
	// Sales pipeline, in order.
	StageNewLead              = "new_lead"
	StageContacted            = "contacted"
	StageAppointmentScheduled = "appointment_scheduled"
	StageProposalSent         = "proposal_sent"
	StageEstimateFollowup     = "estimate_followup"
	StageJobSold              = "job_sold"
	StageEstimateLost         = "estimate_lost"

	// Install pipeline, in order. Follows the sales pipeline: a sold
	// opportunity moves from sales into install.
	StageEstimateApproved   = "estimate_approved"
	StagePreInstallPlanning = "pre_install_planning"
	StageScheduled          = "scheduled"
	StageInProgress         = "in_progress"
	StageOnHold             = "on_hold"
	StageCompleted          = "completed"
)

// stageOrder assigns every stage a position in the combined ordering. Sales
// stages occupy the low range, install stages the high range, so a move from
// any sales stage into the install pipeline counts as forward.
var stageOrder = map[string]int{
	StageNewLead:              0,
	StageContacted:            1,
	StageAppointmentScheduled: 2,
	StageProposalSent:         3,
	StageEstimateFollowup:     4,
	StageJobSold:              5,
	StageEstimateLost:         6,

	StageEstimateApproved:   10,
	StagePreInstallPlanning: 11,
	StageScheduled:          12,
	StageInProgress:         13,
	StageOnHold:             14,
	StageCompleted:          15,
}

// AllowTransition reports whether a move from one stage to another respects
// the forward-only policy. The Lost terminal is reachable from any sales
// stage. An unknown from-stage (a manually created stage we don't manage)
// permits the move: we cannot order against it, and refusing would wedge the
// relationship forever.
func AllowTransition(from, to string) bool {
	toPos, toKnown := stageOrder[to]
	if !toKnown {
		return false
	}

	fromPos, fromKnown := stageOrder[from]
	if !fromKnown {
		return true
	}

	if to == StageEstimateLost {
		return fromPos < stageOrder[StageJobSold]
	}

	return toPos > fromPos
}

// Stages resolves between internal stage keys and the external stage ids
// configured for the CRM account.
type Stages struct {
	idByKey map[string]string
	keyByID map[string]string
}

func NewStages(cfg config.CRMConfig) *Stages {
	s := &Stages{
		idByKey: make(map[string]string),
		keyByID: make(map[string]string),
	}
	for key := range stageOrder {
		id := cfg.GetCRMStageID(key)
		s.idByKey[key] = id
		s.keyByID[id] = key
	}
	return s
}

// ID returns the external stage id for a stage key.
func (s *Stages) ID(key string) string { return s.idByKey[key] }

// Key returns the stage key for an external stage id, or "" when the id is
// not one we manage.
func (s *Stages) Key(id string) string { return s.keyByID[id] }
