// Package jobs dispatches enrichment work through Temporal. Delivery is
// at-least-once; the pipeline's RunEnrichment tolerates duplicates.
package jobs

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the queue enrichment workers poll.
const TaskQueue = "enrichment"

// EnrichmentWorkflow runs the paid-processing step for one query. The
// activity carries its own retry policy; a query that keeps failing lands
// in failed state inside the pipeline, not here.
func EnrichmentWorkflow(ctx workflow.Context, queryID string) error {
	opts := workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, opts)

	var a *Activities
	return workflow.ExecuteActivity(ctx, a.RunEnrichment, queryID).Get(ctx, nil)
}
