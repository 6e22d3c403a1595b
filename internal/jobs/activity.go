package jobs

import (
	"context"

	"go.temporal.io/sdk/activity"
)

// Enricher is the slice of the pipeline the activity needs.
type Enricher interface {
	RunEnrichment(ctx context.Context, queryID string) error
}

// Activities holds the enrichment activity's dependencies.
type Activities struct {
	Pipeline Enricher
}

// RunEnrichment executes the full enrichment run for a paid query.
func (a *Activities) RunEnrichment(ctx context.Context, queryID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("enrichment activity starting", "query_id", queryID)

	if err := a.Pipeline.RunEnrichment(ctx, queryID); err != nil {
		logger.Error("enrichment activity failed", "query_id", queryID, "error", err)
		return err
	}
	return nil
}
