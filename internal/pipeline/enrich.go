package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/extract"
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// ErrInvalidTransition is returned when a status change request does not
// match the query's current state.
var ErrInvalidTransition = eris.New("pipeline: invalid status transition")

// MarkPaid accepts the payment collaborator's confirmation for a preview
// query and hands it to the enrichment queue. The pipeline never initiates
// payment; it only validates the transition.
func (p *SearchPipeline) MarkPaid(ctx context.Context, queryID string) error {
	q, err := p.store.GetQuery(ctx, queryID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load query %s", queryID)
	}
	if !q.Status.CanTransition(model.StatusPaid) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> paid", q.Status)
	}
	if err := p.store.UpdateQueryStatus(ctx, queryID, model.StatusPaid); err != nil {
		return eris.Wrapf(err, "pipeline: mark paid %s", queryID)
	}
	zap.L().Info("pipeline: query paid", zap.String("query_id", queryID))

	if p.dispatcher == nil {
		return nil
	}
	if err := p.dispatcher.EnqueueEnrichment(ctx, queryID); err != nil {
		// The query stays paid; dispatch can be retried.
		return eris.Wrapf(err, "pipeline: enqueue enrichment %s", queryID)
	}
	return nil
}

// RunEnrichment performs the full run for a paid query: search at the full
// page budget, scrape every ranked result (reusing pages already scraped
// during preview), unmasked extraction, and canonical contact records.
// Delivery of the triggering job is at-least-once, so re-invocation on a
// query already in enriching or ready is a no-op.
func (p *SearchPipeline) RunEnrichment(ctx context.Context, queryID string) error {
	q, err := p.store.GetQuery(ctx, queryID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load query %s", queryID)
	}

	switch q.Status {
	case model.StatusEnriching, model.StatusReady:
		zap.L().Info("pipeline: enrichment already handled",
			zap.String("query_id", queryID),
			zap.String("status", string(q.Status)),
		)
		return nil
	case model.StatusPaid:
	default:
		return eris.Wrapf(ErrInvalidTransition, "%s -> enriching", q.Status)
	}

	if err := p.store.UpdateQueryStatus(ctx, queryID, model.StatusEnriching); err != nil {
		return eris.Wrapf(err, "pipeline: start enrichment %s", queryID)
	}
	q.Status = model.StatusEnriching

	log := zap.L().With(zap.String("query_id", queryID))
	log.Info("pipeline: enrichment starting")
	start := p.nowFunc()

	contactCount, err := p.runEnrichment(ctx, q)
	if err != nil {
		p.fail(ctx, q, err)
		return eris.New("pipeline: " + genericFailureMsg)
	}

	q.Status = model.StatusReady
	q.ProcessingTime += p.nowFunc().Sub(start).Seconds()
	p.settle(ctx, q)
	if err := p.store.UpdateQuery(ctx, q); err != nil {
		p.fail(ctx, q, err)
		return eris.New("pipeline: " + genericFailureMsg)
	}

	log.Info("pipeline: enrichment complete",
		zap.Int("results", q.TotalResults),
		zap.Int("contacts", contactCount),
		zap.Float64("total_cost", q.TotalCost),
	)
	return nil
}

func (p *SearchPipeline) runEnrichment(ctx context.Context, q *model.SearchQuery) (int, error) {
	searchRes, err := p.searcher.Search(ctx, q.Request, q.ID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: enrichment search")
	}
	q.PagesProcessed = searchRes.PagesProcessed
	q.TotalResults = len(searchRes.Ranked)
	q.ProviderRaw = searchRes.Raw

	// Pages scraped successfully during preview are reused instead of
	// re-incurring scrape cost.
	prior, err := p.store.ListResults(ctx, q.ID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: load prior results")
	}
	scraped := make(map[string]*model.ScrapeOutcome, len(prior))
	for i := range prior {
		if prior[i].Scrape != nil && prior[i].Scrape.Success {
			scraped[prior[i].Result.URL] = prior[i].Scrape
		}
	}

	stored := make([]model.StoredResult, len(searchRes.Ranked))
	var missing []string
	var missingIdx []int
	for i, r := range searchRes.Ranked {
		stored[i] = model.StoredResult{QueryID: q.ID, Result: r}
		if outcome, ok := scraped[r.URL]; ok {
			stored[i].Scrape = outcome
			continue
		}
		missing = append(missing, r.URL)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) > 0 {
		outcomes := p.fetcher.FetchBatch(ctx, missing, q.ID)
		for j := range outcomes {
			stored[missingIdx[j]].Scrape = &outcomes[j]
		}
	}

	if err := p.store.ReplaceResults(ctx, q.ID, stored); err != nil {
		return 0, eris.Wrap(err, "pipeline: save results")
	}
	// Re-read so contact records key off the persisted result IDs.
	stored, err = p.store.ListResults(ctx, q.ID)
	if err != nil {
		return 0, eris.Wrap(err, "pipeline: reload results")
	}

	contactCount := 0
	for i := range stored {
		if stored[i].Scrape == nil || !stored[i].Scrape.Success {
			continue
		}
		rec := p.extractor.Extract(ctx, stored[i].Scrape.Content, stored[i].Result.URL, q.ID, extract.ModeFull)
		if rec.Empty() {
			continue
		}
		if err := p.store.UpsertContact(ctx, q.ID, stored[i].ID, rec); err != nil {
			return 0, eris.Wrap(err, "pipeline: save contact")
		}
		contactCount++
	}

	p.cacheFullResults(ctx, q, stored)
	return contactCount, nil
}

// cacheFullResults stores the unmasked result set under the full namespace
// so a repeat of the same request can skip the whole pipeline.
func (p *SearchPipeline) cacheFullResults(ctx context.Context, q *model.SearchQuery, results []model.StoredResult) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(results)
	if err != nil {
		zap.L().Debug("pipeline: marshal results for cache", zap.Error(err))
		return
	}
	key := cache.Key(q.Request)
	if err := p.cache.Set(ctx, cache.NamespaceFull, key, payload, p.cfg.FullTTL); err != nil {
		zap.L().Debug("pipeline: full cache set failed", zap.Error(err))
	}
}
