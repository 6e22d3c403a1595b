package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// fakeProvider serves canned pages keyed by page number.
type fakeProvider struct {
	id    model.ProviderID
	pages map[int][]model.ProviderResult
	err   error
	calls int
}

func (f *fakeProvider) ID() model.ProviderID { return f.id }

func (f *fakeProvider) Search(_ context.Context, _ string, page int) ([]model.ProviderResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[page], nil
}

func result(engine model.ProviderID, url string, rank, page int) model.ProviderResult {
	return model.ProviderResult{
		URL:    url,
		Title:  url,
		Engine: engine,
		Rank:   rank,
		Page:   page,
	}
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxRetries: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func request(maxPages int, engines ...model.ProviderID) model.SearchRequest {
	return model.SearchRequest{
		Query:   "acme corp",
		Filters: model.SearchFilters{Engines: engines, MaxPages: maxPages},
	}
}

func TestSearch_MergesAcrossEngines(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {
			result(model.ProviderGoogle, "https://a.example/", 1, 1),
			result(model.ProviderGoogle, "https://b.example/", 2, 1),
		},
	}}
	bing := &fakeProvider{id: model.ProviderBing, pages: map[int][]model.ProviderResult{
		1: {
			result(model.ProviderBing, "https://b.example", 1, 1),
			result(model.ProviderBing, "https://c.example/", 2, 1),
		},
	}}

	agg := NewAggregator([]Provider{google, bing}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(1, model.ProviderGoogle, model.ProviderBing), "q1")
	require.NoError(t, err)

	require.Len(t, res.Ranked, 3)

	// b.example was seen by both engines at best rank 1, so it wins the
	// tie against a.example.
	assert.Equal(t, "https://b.example", res.Ranked[0].URL)
	assert.Len(t, res.Ranked[0].SourceEngines, 2)
	assert.Equal(t, 1, res.Ranked[0].EngineRanks[model.ProviderBing])
	assert.Equal(t, 2, res.Ranked[0].EngineRanks[model.ProviderGoogle])
	assert.Equal(t, 1, res.Ranked[0].Rank)

	// Merged ranks stay the per-engine minimum, never positional.
	assert.Equal(t, "https://a.example/", res.Ranked[1].URL)
	assert.Equal(t, 1, res.Ranked[1].Rank)
	assert.Equal(t, "https://c.example/", res.Ranked[2].URL)
	assert.Equal(t, 2, res.Ranked[2].Rank)
}

func TestSearch_KeepsSparseEngineRanks(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {
			result(model.ProviderGoogle, "https://a.example/", 5, 1),
		},
	}}

	agg := NewAggregator([]Provider{google}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(1, model.ProviderGoogle), "q1")
	require.NoError(t, err)

	// A sole result at engine rank 5 keeps rank 5 after the merge.
	require.Len(t, res.Ranked, 1)
	assert.Equal(t, 5, res.Ranked[0].Rank)
	assert.Equal(t, 5, res.Ranked[0].EngineRanks[model.ProviderGoogle])
}

func TestSearch_EngineFailureIsIsolated(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderGoogle, "https://a.example/", 1, 1)},
	}}
	bing := &fakeProvider{id: model.ProviderBing, err: eris.New("subscription expired")}

	agg := NewAggregator([]Provider{google, bing}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(1, model.ProviderGoogle, model.ProviderBing), "q1")
	require.NoError(t, err)

	require.Len(t, res.Ranked, 1)
	assert.Equal(t, "https://a.example/", res.Ranked[0].URL)
	assert.Empty(t, res.Engines[model.ProviderGoogle].Error)
	assert.Contains(t, res.Engines[model.ProviderBing].Error, "subscription expired")
	assert.Zero(t, res.Engines[model.ProviderBing].Results)
}

func TestSearch_PaginatesUntilEmptyPage(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderGoogle, "https://a.example/", 1, 1)},
		2: {result(model.ProviderGoogle, "https://b.example/", 11, 2)},
		// page 3 empty: stop before page 4
	}}

	agg := NewAggregator([]Provider{google}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(4, model.ProviderGoogle), "q1")
	require.NoError(t, err)

	assert.Equal(t, 3, res.PagesProcessed)
	assert.Equal(t, 3, google.calls)
	assert.Len(t, res.Ranked, 2)
}

func TestSearch_TracksCostPerPageIncludingFreeEngines(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderGoogle, "https://a.example/", 1, 1)},
		2: {result(model.ProviderGoogle, "https://b.example/", 11, 2)},
	}}
	ddg := &fakeProvider{id: model.ProviderDuckDuckGo, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderDuckDuckGo, "https://c.example/", 1, 1)},
	}}

	ledger := cost.NewLedger()
	agg := NewAggregator([]Provider{google, ddg}, ledger, cost.DefaultRates(), WithRetryConfig(fastRetry()))
	_, err := agg.Search(context.Background(), request(2, model.ProviderGoogle, model.ProviderDuckDuckGo), "q1")
	require.NoError(t, err)

	bd := ledger.Breakdown("q1")
	assert.Equal(t, 2, bd["google_search"].Requests)
	assert.Equal(t, 0.01, bd["google_search"].Cost)
	// Free engines still produce auditable entries.
	assert.Equal(t, 2, bd["duckduckgo_search"].Requests)
	assert.Equal(t, float64(0), bd["duckduckgo_search"].Cost)
}

func TestSearch_RateLimitStopsEngineNotQuery(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderGoogle, "https://a.example/", 1, 1)},
		2: {result(model.ProviderGoogle, "https://b.example/", 11, 2)},
	}}
	bing := &fakeProvider{id: model.ProviderBing, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderBing, "https://c.example/", 1, 1)},
		2: {result(model.ProviderBing, "https://d.example/", 11, 2)},
	}}

	agg := NewAggregator([]Provider{google, bing}, cost.NewLedger(), cost.DefaultRates(),
		WithRetryConfig(fastRetry()),
		WithLimiter(model.ProviderGoogle, resilience.NewLimiter(1, time.Minute)),
	)
	res, err := agg.Search(context.Background(), request(2, model.ProviderGoogle, model.ProviderBing), "q1")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Engines[model.ProviderGoogle].Pages)
	assert.Contains(t, res.Engines[model.ProviderGoogle].Error, "rate limit exceeded")
	assert.Equal(t, 2, res.Engines[model.ProviderBing].Pages)
	assert.Len(t, res.Ranked, 3)
}

func TestSearch_OpenBreakerSkipsEngine(t *testing.T) {
	failing := &fakeProvider{id: model.ProviderBing, err: &resilience.TransientError{Err: eris.New("upstream 503"), StatusCode: 503}}

	breakers := resilience.NewBreakers(resilience.BreakerConfig{
		FailureThreshold: 2,
		RecoveryTimeout:  time.Hour,
		SuccessThreshold: 1,
	})
	agg := NewAggregator([]Provider{failing}, cost.NewLedger(), cost.DefaultRates(),
		WithRetryConfig(fastRetry()),
		WithBreakers(breakers),
	)

	// First query trips the breaker (initial try + one retry = 2 failures).
	_, err := agg.Search(context.Background(), request(1, model.ProviderBing), "q1")
	require.NoError(t, err)
	assert.Equal(t, resilience.CircuitOpen, breakers.Get("bing_search").State())

	calls := failing.calls
	res, err := agg.Search(context.Background(), request(1, model.ProviderBing), "q2")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Engines[model.ProviderBing].Error)
	// The open breaker rejects without reaching the provider.
	assert.Equal(t, calls, failing.calls)
}

func TestSearch_CapsMergedResults(t *testing.T) {
	page := make([]model.ProviderResult, 0, 60)
	for i := range 60 {
		page = append(page, result(model.ProviderGoogle, fmt.Sprintf("https://site%02d.example/", i), i+1, 1))
	}
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{1: page}}

	agg := NewAggregator([]Provider{google}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(1, model.ProviderGoogle), "q1")
	require.NoError(t, err)

	require.Len(t, res.Ranked, 50)
	assert.Equal(t, 1, res.Ranked[0].Rank)
	assert.Equal(t, 50, res.Ranked[49].Rank)
}

func TestSearch_ArchivesRawPages(t *testing.T) {
	google := &fakeProvider{id: model.ProviderGoogle, pages: map[int][]model.ProviderResult{
		1: {result(model.ProviderGoogle, "https://a.example/", 1, 1)},
	}}

	agg := NewAggregator([]Provider{google}, cost.NewLedger(), cost.DefaultRates(), WithRetryConfig(fastRetry()))
	res, err := agg.Search(context.Background(), request(1, model.ProviderGoogle), "q1")
	require.NoError(t, err)

	require.Len(t, res.Raw["google"], 1)
	assert.Equal(t, 1, res.Raw["google"][0].Page)
	assert.Contains(t, string(res.Raw["google"][0].Body), "https://a.example/")
}
