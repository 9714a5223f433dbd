package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// InstanceStore is the slice of the repository the trigger layer and the
// execution engine depend on. Declared here so tests can substitute fakes.
type InstanceStore interface {
	CreateInstance(ctx context.Context, p CreateInstanceParams) (uuid.UUID, error)
	HasActiveInstance(ctx context.Context, workflowID uuid.UUID, entityType string, entityID int64) (bool, error)
	DueInstances(ctx context.Context, now time.Time, limit int) ([]Instance, error)
	Advance(ctx context.Context, id uuid.UUID, nextStep int, nextActionAt time.Time, incrementMessages bool) error
	MarkCompleted(ctx context.Context, id uuid.UUID, incrementMessages bool) error
	MarkStopped(ctx context.Context, id uuid.UUID, reason string) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
	CreateStepExecution(ctx context.Context, instanceID uuid.UUID, stepNumber int, action string) (uuid.UUID, error)
	CompleteStepExecution(ctx context.Context, id uuid.UUID, output map[string]any) error
	FailStepExecution(ctx context.Context, id uuid.UUID, errorMessage string) error
}
