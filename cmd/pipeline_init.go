package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/extract"
	"github.com/prospect-labs/prospector-cli/internal/fetch"
	"github.com/prospect-labs/prospector-cli/internal/jobs"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/pipeline"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
	"github.com/prospect-labs/prospector-cli/internal/search"
	"github.com/prospect-labs/prospector-cli/internal/store"
	anthropicpkg "github.com/prospect-labs/prospector-cli/pkg/anthropic"
	"github.com/prospect-labs/prospector-cli/pkg/bing"
	"github.com/prospect-labs/prospector-cli/pkg/duckduckgo"
	"github.com/prospect-labs/prospector-cli/pkg/google"
	"github.com/prospect-labs/prospector-cli/pkg/scrapeapi"
)

// pipelineEnv holds the initialized store, clients, and the pipeline
// needed by the preview/pay/serve/worker commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.SearchPipeline
	Temporal client.Client // may be nil
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Temporal != nil {
		pe.Temporal.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline sets up the store, the engine and scrape clients, and
// builds the SearchPipeline. Callers should defer env.Close().
func initPipeline(ctx context.Context) (*pipelineEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rates := cost.DefaultRates()
	if cfg.Rates.Path != "" {
		rates, err = cost.LoadRates(cfg.Rates.Path)
		if err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "load rate card")
		}
	}
	ledger := cost.NewLedger()

	// Engine providers. Google and Bing need credentials; DuckDuckGo's
	// HTML endpoint is keyless and always available.
	var providers []search.Provider
	if cfg.Google.Key != "" {
		providers = append(providers, &search.GoogleProvider{
			Client: google.NewClient(cfg.Google.Key, cfg.Google.EngineID, google.WithBaseURL(cfg.Google.BaseURL)),
		})
	} else {
		zap.L().Debug("PROSPECTOR_GOOGLE_KEY not set, google engine disabled")
	}
	if cfg.Bing.Key != "" {
		providers = append(providers, &search.BingProvider{
			Client: bing.NewClient(cfg.Bing.Key, bing.WithBaseURL(cfg.Bing.BaseURL)),
		})
	} else {
		zap.L().Debug("PROSPECTOR_BING_KEY not set, bing engine disabled")
	}
	ddgOpts := []duckduckgo.Option{duckduckgo.WithBaseURL(cfg.DuckDuckGo.BaseURL)}
	if cfg.DuckDuckGo.UserAgent != "" {
		ddgOpts = append(ddgOpts, duckduckgo.WithUserAgent(cfg.DuckDuckGo.UserAgent))
	}
	providers = append(providers, &search.DuckDuckGoProvider{
		Client: duckduckgo.NewClient(ddgOpts...),
	})

	engineWindow := time.Duration(cfg.Search.EngineRateWindowMS) * time.Millisecond
	aggOpts := []search.AggregatorOption{
		search.WithBreakers(resilience.NewBreakers(cfg.Resilience.Breaker())),
		search.WithRetryConfig(cfg.Resilience.Retry()),
	}
	for _, id := range model.DefaultProviders() {
		aggOpts = append(aggOpts, search.WithLimiter(id, resilience.NewLimiter(cfg.Search.EngineRateLimit, engineWindow)))
	}
	searcher := search.NewAggregator(providers, ledger, rates, aggOpts...)

	scrapeClient := scrapeapi.NewClient(cfg.ScrapeAPI.Key, scrapeapi.WithBaseURL(cfg.ScrapeAPI.BaseURL))
	fetcher := fetch.NewClient(scrapeClient, ledger, rates,
		fetch.WithConfig(fetch.Config{
			BatchPause:    time.Duration(cfg.Fetch.BatchPauseMS) * time.Millisecond,
			PerURLTimeout: time.Duration(cfg.Fetch.PerURLTimeoutS) * time.Second,
			Retry:         cfg.Resilience.Retry(),
		}),
		fetch.WithBreaker(resilience.NewBreaker("scrape", cfg.Resilience.Breaker())),
		fetch.WithLimiter(resilience.NewLimiter(cfg.Fetch.RateLimit, time.Duration(cfg.Fetch.RateWindowMS)*time.Millisecond)),
		fetch.WithFallback(fetch.NewFallback(cfg.Fetch.FallbackRPS)),
	)

	// Extraction degrades to pattern-only when no model key is set.
	var anthropicClient anthropicpkg.Client
	if cfg.Anthropic.Key != "" {
		anthropicClient = anthropicpkg.NewClient(cfg.Anthropic.Key)
	} else {
		zap.L().Warn("PROSPECTOR_ANTHROPIC_KEY not set, extraction is pattern-only")
	}
	extractor := extract.NewExtractor(anthropicClient, ledger, rates,
		extract.WithModel(cfg.Anthropic.Model),
		extract.WithMaxTokens(cfg.Anthropic.MaxTokens),
	)

	pipeOpts := []pipeline.Option{
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithCache(st),
	}

	// Enrichment jobs run through Temporal when a server is reachable.
	// Without one, paid queries wait for an explicit `enrich` run.
	var temporalClient client.Client
	if cfg.Temporal.HostPort != "" {
		temporalClient, err = client.Dial(client.Options{
			HostPort:  cfg.Temporal.HostPort,
			Namespace: cfg.Temporal.Namespace,
			Logger:    jobs.NewZapAdapter(zap.L()),
		})
		if err != nil {
			zap.L().Warn("temporal dial failed, enrichment dispatch disabled", zap.Error(err))
			temporalClient = nil
		} else {
			pipeOpts = append(pipeOpts, pipeline.WithDispatcher(jobs.NewDispatcher(temporalClient)))
		}
	}

	p := pipeline.New(st, searcher, fetcher, extractor, ledger, rates, pipeOpts...)

	return &pipelineEnv{Store: st, Pipeline: p, Temporal: temporalClient}, nil
}
