// Package pipeline drives a search query through the preview, payment and
// enrichment stages. Stage order within one query is strict: aggregate,
// fetch, extract, store, cost-settle. Queries are independent of each other.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cache"
	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/extract"
	"github.com/prospect-labs/prospector-cli/internal/fetch"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/search"
	"github.com/prospect-labs/prospector-cli/internal/store"
)

// genericFailureMsg is what callers see when a query fails. The underlying
// error is logged, never surfaced.
const genericFailureMsg = "processing failed"

// Searcher runs a request against the configured engines and merges the
// ranking. Implemented by search.Aggregator.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest, correlationID string) (*search.Result, error)
}

// Fetcher scrapes batches of candidate pages. Implemented by fetch.Client.
type Fetcher interface {
	FetchBatch(ctx context.Context, urls []string, correlationID string) []model.ScrapeOutcome
	Status() fetch.Status
}

// Extractor pulls contact records out of page content. Implemented by
// extract.Extractor.
type Extractor interface {
	Extract(ctx context.Context, content, pageURL, correlationID string, mode extract.Mode) model.ContactRecord
}

// Dispatcher hands a paid query to the enrichment job queue. Delivery is
// at-least-once; RunEnrichment tolerates duplicates.
type Dispatcher interface {
	EnqueueEnrichment(ctx context.Context, queryID string) error
}

// Config holds the preview budgets and cache TTLs.
type Config struct {
	PreviewPages      int           `yaml:"preview_pages" mapstructure:"preview_pages"`
	PreviewFetchCap   int           `yaml:"preview_fetch_cap" mapstructure:"preview_fetch_cap"`
	PreviewSampleCap  int           `yaml:"preview_sample_cap" mapstructure:"preview_sample_cap"`
	PreviewContactCap int           `yaml:"preview_contact_cap" mapstructure:"preview_contact_cap"`
	PreviewTTL        time.Duration `yaml:"preview_ttl" mapstructure:"preview_ttl"`
	FullTTL           time.Duration `yaml:"full_ttl" mapstructure:"full_ttl"`
}

// DefaultConfig returns the standard preview budgets: one provider page,
// three scraped pages, five extraction candidates, ten contacts.
func DefaultConfig() Config {
	return Config{
		PreviewPages:      1,
		PreviewFetchCap:   3,
		PreviewSampleCap:  5,
		PreviewContactCap: 10,
		PreviewTTL:        15 * time.Minute,
		FullTTL:           24 * time.Hour,
	}
}

// SearchPipeline owns the query state machine. All persistence goes through
// the store; the cache is advisory and never fails a run.
type SearchPipeline struct {
	store      store.Store
	cache      cache.Cache
	searcher   Searcher
	fetcher    Fetcher
	extractor  Extractor
	ledger     *cost.Ledger
	estimator  *cost.Estimator
	dispatcher Dispatcher
	cfg        Config

	nowFunc func() time.Time
}

// Option configures a SearchPipeline.
type Option func(*SearchPipeline)

// WithConfig overrides the default preview budgets.
func WithConfig(cfg Config) Option {
	return func(p *SearchPipeline) { p.cfg = cfg }
}

// WithCache attaches a result cache. Without one, every request runs live.
func WithCache(c cache.Cache) Option {
	return func(p *SearchPipeline) { p.cache = c }
}

// WithDispatcher attaches the enrichment job queue.
func WithDispatcher(d Dispatcher) Option {
	return func(p *SearchPipeline) { p.dispatcher = d }
}

// New creates a SearchPipeline with all collaborators.
func New(
	st store.Store,
	searcher Searcher,
	fetcher Fetcher,
	extractor Extractor,
	ledger *cost.Ledger,
	rates cost.Rates,
	opts ...Option,
) *SearchPipeline {
	p := &SearchPipeline{
		store:     st,
		searcher:  searcher,
		fetcher:   fetcher,
		extractor: extractor,
		ledger:    ledger,
		estimator: cost.NewEstimator(rates),
		cfg:       DefaultConfig(),
		nowFunc:   time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// StatusSummary is the caller-facing view of a query's progress.
type StatusSummary struct {
	QueryID        string                       `json:"query_id"`
	Status         model.SearchStatus           `json:"status"`
	TotalCost      float64                      `json:"total_cost"`
	CostBreakdown  map[string]model.ServiceCost `json:"cost_breakdown,omitempty"`
	PagesProcessed int                          `json:"pages_processed"`
	TotalResults   int                          `json:"total_results"`
	ContactCount   int                          `json:"contact_count"`
	ProcessingTime float64                      `json:"processing_time,omitempty"`
	Error          string                       `json:"error,omitempty"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

// GetStatus reports a query's state and cost summary.
func (p *SearchPipeline) GetStatus(ctx context.Context, queryID string) (*StatusSummary, error) {
	q, err := p.store.GetQuery(ctx, queryID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load query %s", queryID)
	}

	summary := &StatusSummary{
		QueryID:        q.ID,
		Status:         q.Status,
		TotalCost:      q.TotalCost,
		CostBreakdown:  q.CostBreakdown,
		PagesProcessed: q.PagesProcessed,
		TotalResults:   q.TotalResults,
		ProcessingTime: q.ProcessingTime,
		Error:          q.Error,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}

	contacts, err := p.store.ListContacts(ctx, queryID)
	if err != nil {
		zap.L().Warn("pipeline: contact count unavailable", zap.String("query_id", queryID), zap.Error(err))
	} else {
		summary.ContactCount = len(contacts)
	}
	return summary, nil
}

// EstimateCost quotes a full enrichment run for a request without touching
// any provider. The quote is advisory; billing follows the ledger.
func (p *SearchPipeline) EstimateCost(req model.SearchRequest) cost.Estimate {
	req = req.Normalize()
	return p.estimator.Estimate(cost.EstimateParams{
		Engines:     req.Filters.Engines,
		MaxPages:    req.Filters.MaxPages,
		ScrapePages: -1,
		DoScrape:    true,
		DoEnrich:    true,
	})
}

// FetchStatus exposes the fetch client's health view: breaker state and
// remaining rate budget.
func (p *SearchPipeline) FetchStatus() fetch.Status {
	return p.fetcher.Status()
}

// fail moves a query to failed with the generic message. Best effort: a
// store error at this point is logged, not returned.
func (p *SearchPipeline) fail(ctx context.Context, q *model.SearchQuery, cause error) {
	zap.L().Error("pipeline: query failed",
		zap.String("query_id", q.ID),
		zap.String("status", string(q.Status)),
		zap.Error(cause),
	)
	q.Status = model.StatusFailed
	q.Error = genericFailureMsg
	if err := p.store.UpdateQuery(ctx, q); err != nil {
		zap.L().Error("pipeline: failed to record failure", zap.String("query_id", q.ID), zap.Error(err))
	}
}

// settle folds the ledger session into the query record and flushes the
// entries to the store. Folding goes through Settle so entries left
// queued by an incomplete flush are not folded again at the next commit
// point; the session is cleared only after a clean flush.
func (p *SearchPipeline) settle(ctx context.Context, q *model.SearchQuery) {
	total, breakdown := p.ledger.Settle(q.ID)
	q.TotalCost += total
	q.CostBreakdown = mergeBreakdown(q.CostBreakdown, breakdown)

	if err := p.ledger.Flush(ctx, q.ID, p.store); err != nil {
		zap.L().Warn("pipeline: cost flush incomplete", zap.String("query_id", q.ID), zap.Error(err))
		return
	}
	p.ledger.Clear(q.ID)
}

func mergeBreakdown(base, add map[string]model.ServiceCost) map[string]model.ServiceCost {
	if len(add) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]model.ServiceCost, len(add))
	}
	for svc, sc := range add {
		prev := base[svc]
		base[svc] = model.ServiceCost{
			Requests: prev.Requests + sc.Requests,
			Cost:     prev.Cost + sc.Cost,
		}
	}
	return base
}
