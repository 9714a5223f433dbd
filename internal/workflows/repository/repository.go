package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"followup_backend/platform/apperr"
)

var ErrNotFound = errors.New("workflow record not found")

// Instance statuses. Terminal states are final: no instance ever leaves
// completed, stopped or failed except through an explicit admin retrigger.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Step execution statuses.
const (
	ExecutionExecuting = "executing"
	ExecutionCompleted = "completed"
	ExecutionFailed    = "failed"
)

// Step is one entry in a workflow definition's ordered action list.
type Step struct {
	Action    string `json:"action"`
	Delay     string `json:"delay,omitempty"`
	Condition string `json:"condition,omitempty"`
}

// Definition is an immutable workflow template. Created by configuration,
// read-only at runtime.
type Definition struct {
	ID             uuid.UUID
	Name           string
	TriggerType    string
	Steps          []Step
	StopConditions []string
	Enabled        bool
	CreatedAt      time.Time
}

// Instance is one activation of a definition for a business entity.
type Instance struct {
	ID            uuid.UUID
	WorkflowID    uuid.UUID
	EntityType    string
	EntityID      int64
	CustomerID    int64
	Status        string
	CurrentStep   int
	NextActionAt  *time.Time
	MessageCount  int
	StoppedReason *string
	Context       map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// StepExecution is an append-only audit record of one step attempt.
type StepExecution struct {
	ID                uuid.UUID
	WorkflowInstanceID uuid.UUID
	StepNumber        int
	ActionDescription string
	Status            string
	ActionOutput      map[string]any
	ErrorMessage      *string
	StartedAt         time.Time
	CompletedAt       *time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// =============================================================================
// Definitions
// =============================================================================

func (r *Repository) ListEnabledDefinitions(ctx context.Context) ([]Definition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, trigger_type, steps, stop_conditions, enabled, created_at
		FROM workflow_definitions
		WHERE enabled = true
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDefinitions(rows)
}

func (r *Repository) CreateDefinition(ctx context.Context, d Definition) (Definition, error) {
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return Definition{}, err
	}
	stops, err := json.Marshal(d.StopConditions)
	if err != nil {
		return Definition{}, err
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow_definitions (name, trigger_type, steps, stop_conditions, enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, d.Name, d.TriggerType, steps, stops, d.Enabled).Scan(&d.ID, &d.CreatedAt)
	return d, err
}

func scanDefinitions(rows pgx.Rows) ([]Definition, error) {
	items := make([]Definition, 0)
	for rows.Next() {
		var d Definition
		var steps, stops []byte
		if err := rows.Scan(&d.ID, &d.Name, &d.TriggerType, &steps, &stops, &d.Enabled, &d.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(steps, &d.Steps); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(stops, &d.StopConditions); err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

// =============================================================================
// Instances
// =============================================================================

type CreateInstanceParams struct {
	WorkflowID   uuid.UUID
	EntityType   string
	EntityID     int64
	CustomerID   int64
	NextActionAt time.Time
	Context      map[string]any
}

// CreateInstance inserts a new active instance at step 0. The partial unique
// index on (workflow_id, entity_type, entity_id) WHERE status = 'active' is
// the idempotency boundary for duplicate trigger events: a second insert for
// the same pair is silently dropped and (uuid.Nil, nil) is returned.
func (r *Repository) CreateInstance(ctx context.Context, p CreateInstanceParams) (uuid.UUID, error) {
	payload, err := json.Marshal(p.Context)
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `
		INSERT INTO workflow_instances (workflow_id, entity_type, entity_id, customer_id, status, current_step, next_action_at, message_count, context)
		VALUES ($1, $2, $3, $4, 'active', 0, $5, 0, $6)
		ON CONFLICT (workflow_id, entity_type, entity_id) WHERE status = 'active' DO NOTHING
		RETURNING id
	`, p.WorkflowID, p.EntityType, p.EntityID, p.CustomerID, p.NextActionAt, payload).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, nil
	}
	return id, err
}

// HasActiveInstance reports whether an active instance already exists for the
// (definition, entity) pair.
func (r *Repository) HasActiveInstance(ctx context.Context, workflowID uuid.UUID, entityType string, entityID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workflow_instances
			WHERE workflow_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = 'active'
		)
	`, workflowID, entityType, entityID).Scan(&exists)
	return exists, err
}

// DueInstances returns active instances whose next action is due, oldest due
// time first.
func (r *Repository) DueInstances(ctx context.Context, now time.Time, limit int) ([]Instance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, entity_type, entity_id, customer_id, status, current_step, next_action_at, message_count, stopped_reason, context, created_at, updated_at
		FROM workflow_instances
		WHERE status = 'active' AND next_action_at <= $1
		ORDER BY next_action_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstances(rows)
}

func (r *Repository) GetInstance(ctx context.Context, id uuid.UUID) (Instance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, entity_type, entity_id, customer_id, status, current_step, next_action_at, message_count, stopped_reason, context, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1
	`, id)
	if err != nil {
		return Instance{}, err
	}
	defer rows.Close()

	items, err := scanInstances(rows)
	if err != nil {
		return Instance{}, err
	}
	if len(items) == 0 {
		return Instance{}, ErrNotFound
	}
	return items[0], nil
}

type ListInstancesParams struct {
	Status     string
	EntityType string
	Limit      int
}

func (r *Repository) ListInstances(ctx context.Context, p ListInstancesParams) ([]Instance, error) {
	if p.Limit < 1 || p.Limit > 200 {
		p.Limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_id, entity_type, entity_id, customer_id, status, current_step, next_action_at, message_count, stopped_reason, context, created_at, updated_at
		FROM workflow_instances
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR entity_type = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, p.Status, p.EntityType, p.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanInstances(rows)
}

func scanInstances(rows pgx.Rows) ([]Instance, error) {
	items := make([]Instance, 0)
	for rows.Next() {
		var inst Instance
		var payload []byte
		if err := rows.Scan(&inst.ID, &inst.WorkflowID, &inst.EntityType, &inst.EntityID, &inst.CustomerID, &inst.Status, &inst.CurrentStep, &inst.NextActionAt, &inst.MessageCount, &inst.StoppedReason, &payload, &inst.CreatedAt, &inst.UpdatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &inst.Context); err != nil {
				return nil, err
			}
		}
		items = append(items, inst)
	}
	return items, rows.Err()
}

// Advance moves an active instance to its next step. nextActionAt is nil when
// there is no further step (callers should use MarkCompleted instead in that
// case; Advance enforces the active-instance invariant that next_action_at is
// non-null).
func (r *Repository) Advance(ctx context.Context, id uuid.UUID, nextStep int, nextActionAt time.Time, incrementMessages bool) error {
	inc := 0
	if incrementMessages {
		inc = 1
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET current_step = $2, next_action_at = $3, message_count = message_count + $4, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, nextStep, nextActionAt, inc)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, incrementMessages bool) error {
	inc := 0
	if incrementMessages {
		inc = 1
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET status = 'completed', next_action_at = NULL, message_count = message_count + $2, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, inc)
	return err
}

func (r *Repository) MarkStopped(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET status = 'stopped', stopped_reason = $2, next_action_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id, reason)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET status = 'failed', next_action_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'active'
	`, id)
	return err
}

// RetriggerFailed reactivates a failed instance at its current step. This is
// the only transition out of a terminal state and requires an explicit admin
// call.
func (r *Repository) RetriggerFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE workflow_instances
		SET status = 'active', next_action_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'failed'
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetInstance(ctx, id); errors.Is(err, ErrNotFound) {
			return apperr.NotFound("instance not found")
		}
		return apperr.Conflict("instance is not in failed state")
	}
	return nil
}

// =============================================================================
// Step executions
// =============================================================================

func (r *Repository) CreateStepExecution(ctx context.Context, instanceID uuid.UUID, stepNumber int, action string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, `
		INSERT INTO workflow_step_executions (workflow_instance_id, step_number, action_description, status, started_at)
		VALUES ($1, $2, $3, 'executing', now())
		RETURNING id
	`, instanceID, stepNumber, action).Scan(&id)
	return id, err
}

func (r *Repository) CompleteStepExecution(ctx context.Context, id uuid.UUID, output map[string]any) error {
	payload, err := json.Marshal(output)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status = 'completed', action_output = $2, completed_at = now()
		WHERE id = $1
	`, id, payload)
	return err
}

func (r *Repository) FailStepExecution(ctx context.Context, id uuid.UUID, errorMessage string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE workflow_step_executions
		SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1
	`, id, errorMessage)
	return err
}

func (r *Repository) ListExecutions(ctx context.Context, instanceID uuid.UUID) ([]StepExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, workflow_instance_id, step_number, action_description, status, action_output, error_message, started_at, completed_at
		FROM workflow_step_executions
		WHERE workflow_instance_id = $1
		ORDER BY started_at ASC
	`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]StepExecution, 0)
	for rows.Next() {
		var exec StepExecution
		var output []byte
		if err := rows.Scan(&exec.ID, &exec.WorkflowInstanceID, &exec.StepNumber, &exec.ActionDescription, &exec.Status, &output, &exec.ErrorMessage, &exec.StartedAt, &exec.CompletedAt); err != nil {
			return nil, err
		}
		if len(output) > 0 {
			if err := json.Unmarshal(output, &exec.ActionOutput); err != nil {
				return nil, err
			}
		}
		items = append(items, exec)
	}
	return items, rows.Err()
}

// PruneExecutions deletes audit rows for instances that reached a terminal
// state before the cutoff. Used by the retention worker.
func (r *Repository) PruneExecutions(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM workflow_step_executions e
		USING workflow_instances i
		WHERE e.workflow_instance_id = i.id
		  AND i.status <> 'active'
		  AND e.started_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
