package search

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
)

// maxRankedResults caps the merged list handed to downstream stages.
const maxRankedResults = 50

// EngineOutcome summarizes one engine's contribution to a query.
type EngineOutcome struct {
	Results int    `json:"results"`
	Pages   int    `json:"pages"`
	Error   string `json:"error,omitempty"`
}

// Result is the merged output of a multi-engine search.
type Result struct {
	Ranked         []model.RankedResult
	PagesProcessed int
	Engines        map[model.ProviderID]EngineOutcome
	Raw            map[string][]model.RawPayload
}

// Aggregator runs a query against every configured provider in parallel
// and merges the results. One engine failing, rate limiting, or tripping
// its breaker never blocks the others.
type Aggregator struct {
	providers map[model.ProviderID]Provider
	breakers  *resilience.Breakers
	limiters  map[model.ProviderID]*resilience.Limiter
	retry     resilience.RetryConfig
	ledger    *cost.Ledger
	rates     cost.Rates

	nowFunc func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithBreakers supplies a shared circuit breaker registry.
func WithBreakers(b *resilience.Breakers) AggregatorOption {
	return func(a *Aggregator) { a.breakers = b }
}

// WithLimiter attaches a rate limiter to one engine.
func WithLimiter(id model.ProviderID, l *resilience.Limiter) AggregatorOption {
	return func(a *Aggregator) { a.limiters[id] = l }
}

// WithRetryConfig overrides the per-page retry policy.
func WithRetryConfig(cfg resilience.RetryConfig) AggregatorOption {
	return func(a *Aggregator) { a.retry = cfg }
}

// NewAggregator creates an aggregator over the given providers.
func NewAggregator(providers []Provider, ledger *cost.Ledger, rates cost.Rates, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: make(map[model.ProviderID]Provider, len(providers)),
		breakers:  resilience.NewBreakers(resilience.DefaultBreakerConfig()),
		limiters:  make(map[model.ProviderID]*resilience.Limiter),
		retry:     resilience.DefaultRetryConfig(),
		ledger:    ledger,
		rates:     rates,
		nowFunc:   time.Now,
	}
	for _, p := range providers {
		a.providers[p.ID()] = p
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Search fans req out to its engines, paging each up to MaxPages, and
// returns the merged ranking. Engine errors degrade that engine to a
// partial or empty contribution; Search itself fails only when the
// context does.
func (a *Aggregator) Search(ctx context.Context, req model.SearchRequest, correlationID string) (*Result, error) {
	engines := req.Filters.Engines
	if len(engines) == 0 {
		engines = model.DefaultProviders()
	}
	maxPages := req.Filters.MaxPages
	if maxPages < 1 {
		maxPages = 1
	}

	res := &Result{
		Engines: make(map[model.ProviderID]EngineOutcome, len(engines)),
		Raw:     make(map[string][]model.RawPayload),
	}

	var mu sync.Mutex
	var all []model.ProviderResult

	g, gCtx := errgroup.WithContext(ctx)
	for _, id := range engines {
		g.Go(func() error {
			provider, ok := a.providers[id]
			if !ok {
				mu.Lock()
				res.Engines[id] = EngineOutcome{Error: "engine not configured"}
				mu.Unlock()
				return nil
			}

			results, raw, pages, engineErr := a.searchEngine(gCtx, provider, req.Query, maxPages, correlationID)

			mu.Lock()
			defer mu.Unlock()
			outcome := EngineOutcome{Results: len(results), Pages: pages}
			if engineErr != nil {
				outcome.Error = engineErr.Error()
				zap.L().Warn("engine degraded",
					zap.String("engine", string(id)),
					zap.String("correlation_id", correlationID),
					zap.Error(engineErr),
				)
			}
			res.Engines[id] = outcome
			res.PagesProcessed += pages
			res.Raw[string(id)] = raw
			all = append(all, results...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res.Ranked = merge(all)
	return res, nil
}

// searchEngine pages one provider. It returns whatever was fetched
// before the first unrecoverable error, along with that error.
func (a *Aggregator) searchEngine(ctx context.Context, provider Provider, query string, maxPages int, correlationID string) ([]model.ProviderResult, []model.RawPayload, int, error) {
	id := provider.ID()
	breaker := a.breakers.Get(serviceName(id))

	var results []model.ProviderResult
	var raw []model.RawPayload
	pages := 0

	for page := 1; page <= maxPages; page++ {
		if limiter := a.limiters[id]; limiter != nil {
			if err := limiter.Acquire(); err != nil {
				return results, raw, pages, err
			}
		}

		pageResults, err := resilience.RetryVal(ctx, a.retry, func(ctx context.Context) ([]model.ProviderResult, error) {
			return resilience.ExecuteVal(ctx, breaker, func(ctx context.Context) ([]model.ProviderResult, error) {
				return provider.Search(ctx, query, page)
			})
		})
		if err != nil {
			return results, raw, pages, err
		}

		pages++
		a.ledger.Track(serviceName(id), 1, a.rates.SearchCost(string(id)), correlationID)

		body, _ := json.Marshal(pageResults)
		raw = append(raw, model.RawPayload{Page: page, Body: body, FetchedAt: a.nowFunc()})
		results = append(results, pageResults...)

		// An empty page means the engine ran out of results.
		if len(pageResults) == 0 {
			break
		}
	}
	return results, raw, pages, nil
}

// merge deduplicates results across engines by normalized URL. The
// merged rank is the best per-engine rank; ties break toward results
// seen by more engines, then lexically for determinism.
func merge(all []model.ProviderResult) []model.RankedResult {
	byURL := make(map[string]*model.RankedResult)
	var order []string

	for _, r := range all {
		key := model.NormalizeURL(r.URL)
		if key == "" {
			continue
		}

		existing, ok := byURL[key]
		if !ok {
			byURL[key] = &model.RankedResult{
				URL:           r.URL,
				Title:         r.Title,
				Snippet:       r.Snippet,
				SourceEngines: []model.ProviderID{r.Engine},
				EngineRanks:   map[model.ProviderID]int{r.Engine: r.Rank},
				Rank:          r.Rank,
			}
			order = append(order, key)
			continue
		}

		if prev, had := existing.EngineRanks[r.Engine]; !had || r.Rank < prev {
			existing.EngineRanks[r.Engine] = r.Rank
		}
		if !seen(existing.SourceEngines, r.Engine) {
			existing.SourceEngines = append(existing.SourceEngines, r.Engine)
		}
		if r.Rank < existing.Rank {
			existing.Rank = r.Rank
			existing.URL = r.URL
			existing.Title = r.Title
			existing.Snippet = r.Snippet
		}
	}

	merged := make([]model.RankedResult, 0, len(order))
	for _, key := range order {
		merged = append(merged, *byURL[key])
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Rank != merged[j].Rank {
			return merged[i].Rank < merged[j].Rank
		}
		if len(merged[i].SourceEngines) != len(merged[j].SourceEngines) {
			return len(merged[i].SourceEngines) > len(merged[j].SourceEngines)
		}
		return merged[i].URL < merged[j].URL
	})

	if len(merged) > maxRankedResults {
		merged = merged[:maxRankedResults]
	}
	return merged
}

func seen(engines []model.ProviderID, id model.ProviderID) bool {
	for _, e := range engines {
		if e == id {
			return true
		}
	}
	return false
}
