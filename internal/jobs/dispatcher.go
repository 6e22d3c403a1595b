package jobs

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
)

// Dispatcher starts an enrichment workflow per paid query. The workflow
// ID is derived from the query ID, so a duplicate payment confirmation
// for a query whose run is still in flight is absorbed here.
type Dispatcher struct {
	client client.Client
}

// NewDispatcher creates a Dispatcher over an open Temporal client.
func NewDispatcher(c client.Client) *Dispatcher {
	return &Dispatcher{client: c}
}

// EnqueueEnrichment schedules the enrichment workflow for queryID.
func (d *Dispatcher) EnqueueEnrichment(ctx context.Context, queryID string) error {
	opts := client.StartWorkflowOptions{
		ID:        "enrich-" + queryID,
		TaskQueue: TaskQueue,
	}
	_, err := d.client.ExecuteWorkflow(ctx, opts, EnrichmentWorkflow, queryID)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		zap.L().Info("jobs: enrichment already scheduled", zap.String("query_id", queryID))
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "jobs: start enrichment %s", queryID)
	}
	return nil
}
