package pipeline

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/extract"
	"github.com/prospect-labs/prospector-cli/internal/mask"
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// PageSample is one candidate page in the preview, with its scrape flag.
type PageSample struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Scraped bool   `json:"scraped"`
}

// PreviewResult is the masked view returned to an unpaid caller.
type PreviewResult struct {
	QueryID           string                `json:"query_id"`
	Status            model.SearchStatus    `json:"status"`
	Contacts          []model.ContactRecord `json:"contacts"`
	SamplePages       []PageSample          `json:"sample_pages"`
	TotalResults      int                   `json:"total_results"`
	PreviewCost       float64               `json:"preview_cost"`
	EstimatedFullCost cost.Estimate         `json:"estimated_full_cost"`
	FromCache         bool                  `json:"from_cache,omitempty"`
}

// CreatePreview runs the capped preview pipeline for a request: aggregate
// search, a small scrape budget, masked extraction on a sample, and a quote
// for the full run. An identical request served within the preview TTL is
// answered from cache without touching any provider.
func (p *SearchPipeline) CreatePreview(ctx context.Context, req model.SearchRequest) (*PreviewResult, error) {
	req = req.Normalize()
	key := cache.Key(req)

	if cached := p.cachedPreview(ctx, key); cached != nil {
		return cached, nil
	}

	q := &model.SearchQuery{Request: req, Status: model.StatusPreview}
	if err := p.store.CreateQuery(ctx, q); err != nil {
		return nil, eris.Wrap(err, "pipeline: create query")
	}

	log := zap.L().With(zap.String("query_id", q.ID), zap.String("query", req.Query))
	log.Info("pipeline: preview starting")
	start := p.nowFunc()

	preview, err := p.runPreview(ctx, q)
	if err != nil {
		p.fail(ctx, q, err)
		return nil, eris.New("pipeline: " + genericFailureMsg)
	}

	q.ProcessingTime = p.nowFunc().Sub(start).Seconds()
	p.settle(ctx, q)
	if err := p.store.UpdateQuery(ctx, q); err != nil {
		p.fail(ctx, q, err)
		return nil, eris.New("pipeline: " + genericFailureMsg)
	}

	preview.PreviewCost = q.TotalCost
	p.cachePreview(ctx, key, preview)

	log.Info("pipeline: preview complete",
		zap.Int("results", preview.TotalResults),
		zap.Int("contacts", len(preview.Contacts)),
		zap.Float64("cost", preview.PreviewCost),
	)
	return preview, nil
}

// runPreview executes the preview stages against q, mutating it in place.
// Any returned error is fatal to the query.
func (p *SearchPipeline) runPreview(ctx context.Context, q *model.SearchQuery) (*PreviewResult, error) {
	previewReq := q.Request
	if p.cfg.PreviewPages > 0 && previewReq.Filters.MaxPages > p.cfg.PreviewPages {
		previewReq.Filters.MaxPages = p.cfg.PreviewPages
	}

	searchRes, err := p.searcher.Search(ctx, previewReq, q.ID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: preview search")
	}
	q.PagesProcessed = searchRes.PagesProcessed
	q.TotalResults = len(searchRes.Ranked)
	q.ProviderRaw = searchRes.Raw

	stored := make([]model.StoredResult, len(searchRes.Ranked))
	for i, r := range searchRes.Ranked {
		stored[i] = model.StoredResult{QueryID: q.ID, Result: r}
	}

	// Scrape only the preview budget; outcomes are positional.
	fetchCount := len(stored)
	if p.cfg.PreviewFetchCap > 0 && fetchCount > p.cfg.PreviewFetchCap {
		fetchCount = p.cfg.PreviewFetchCap
	}
	urls := make([]string, fetchCount)
	for i := range urls {
		urls[i] = stored[i].Result.URL
	}
	outcomes := p.fetcher.FetchBatch(ctx, urls, q.ID)
	for i := range outcomes {
		stored[i].Scrape = &outcomes[i]
	}

	if err := p.store.ReplaceResults(ctx, q.ID, stored); err != nil {
		return nil, eris.Wrap(err, "pipeline: save preview results")
	}

	preview := &PreviewResult{
		QueryID:      q.ID,
		Status:       model.StatusPreview,
		TotalResults: q.TotalResults,
		EstimatedFullCost: p.EstimateCost(q.Request),
	}

	extracted := 0
	for i := range stored {
		preview.SamplePages = append(preview.SamplePages, PageSample{
			URL:     stored[i].Result.URL,
			Title:   stored[i].Result.Title,
			Scraped: stored[i].Scrape != nil && stored[i].Scrape.Success,
		})
		if stored[i].Scrape == nil || !stored[i].Scrape.Success {
			continue
		}
		if p.cfg.PreviewSampleCap > 0 && extracted >= p.cfg.PreviewSampleCap {
			continue
		}
		// A filled contact cap makes further extraction a billable
		// call with nowhere to put the result.
		if p.cfg.PreviewContactCap > 0 && len(preview.Contacts) >= p.cfg.PreviewContactCap {
			continue
		}
		extracted++

		rec := p.extractor.Extract(ctx, stored[i].Scrape.Content, stored[i].Result.URL, q.ID, extract.ModePreview)
		if rec.Empty() {
			continue
		}
		preview.Contacts = append(preview.Contacts, mask.Contact(rec, mask.StyleDots))
	}

	return preview, nil
}

func (p *SearchPipeline) cachedPreview(ctx context.Context, key string) *PreviewResult {
	if p.cache == nil {
		return nil
	}
	payload, found, err := p.cache.Get(ctx, cache.NamespacePreview, key)
	if err != nil {
		zap.L().Debug("pipeline: preview cache unavailable", zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	var preview PreviewResult
	if err := json.Unmarshal(payload, &preview); err != nil {
		zap.L().Debug("pipeline: discarding bad preview cache entry", zap.Error(err))
		return nil
	}
	preview.FromCache = true
	return &preview
}

func (p *SearchPipeline) cachePreview(ctx context.Context, key string, preview *PreviewResult) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(preview)
	if err != nil {
		zap.L().Debug("pipeline: marshal preview for cache", zap.Error(err))
		return
	}
	if err := p.cache.Set(ctx, cache.NamespacePreview, key, payload, p.cfg.PreviewTTL); err != nil {
		zap.L().Debug("pipeline: preview cache set failed", zap.Error(err))
	}
}
