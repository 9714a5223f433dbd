package workers

import (
	"context"
	"time"

	workflowrepo "followup_backend/internal/workflows/repository"
	"followup_backend/internal/workers/repository"
)

// NewRetentionWorker prunes old worker runs and step executions of finished
// workflow instances. Keeps the history tables from growing without bound.
func NewRetentionWorker(runs *repository.Repository, executions *workflowrepo.Repository, schedule string, retention time.Duration) Worker {
	return Worker{
		Name:     "retention",
		Schedule: schedule,
		Enabled:  true,
		Timeout:  2 * time.Minute,
		Execute: func(ctx context.Context) (map[string]any, error) {
			cutoff := time.Now().Add(-retention)

			prunedRuns, err := runs.PruneRuns(ctx, cutoff)
			if err != nil {
				return nil, err
			}

			prunedExecs, err := executions.PruneExecutions(ctx, cutoff)
			if err != nil {
				return map[string]any{"workerRuns": prunedRuns}, err
			}

			return map[string]any{
				"workerRuns":     prunedRuns,
				"stepExecutions": prunedExecs,
			}, nil
		},
	}
}
