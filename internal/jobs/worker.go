package jobs

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// RunWorker registers the enrichment workflow and activity and polls the
// task queue until the interrupt channel fires.
func RunWorker(c client.Client, enricher Enricher) error {
	w := worker.New(c, TaskQueue, worker.Options{})

	w.RegisterWorkflow(EnrichmentWorkflow)
	w.RegisterActivity(&Activities{Pipeline: enricher})

	if err := w.Run(worker.InterruptCh()); err != nil {
		return eris.Wrap(err, "jobs: worker run")
	}
	return nil
}
