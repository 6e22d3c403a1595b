// Package fetch turns ranked result URLs into page content, riding the
// hosted scraping service while it is healthy and degrading to direct
// fetching when it is not.
package fetch

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/prospect-labs/prospector-cli/internal/cost"
	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
	"github.com/prospect-labs/prospector-cli/pkg/scrapeapi"
)

// batchSize is how many URLs are fetched concurrently before pausing.
const batchSize = 5

const breakerName = "scrape_api"

// Scraper is the fallback used when the hosted service is unavailable.
type Scraper interface {
	Scrape(ctx context.Context, url string) (title, content string, err error)
}

// Config tunes the fetch client.
type Config struct {
	// BatchPause is the delay between batches of batchSize URLs.
	BatchPause time.Duration
	// PerURLTimeout bounds one URL's primary-plus-fallback attempt.
	PerURLTimeout time.Duration
	Retry         resilience.RetryConfig
}

// DefaultConfig returns the fetch defaults.
func DefaultConfig() Config {
	return Config{
		BatchPause:    500 * time.Millisecond,
		PerURLTimeout: 90 * time.Second,
		Retry:         resilience.DefaultRetryConfig(),
	}
}

// Status reports the client's health surface.
type Status struct {
	Breaker         resilience.CircuitState `json:"breaker"`
	BreakerFailures int                     `json:"breaker_failures"`
	RateLimitBudget int                     `json:"rate_limit_budget"`
}

// Client fetches URLs with circuit breaking, rate limiting, retry, and
// local fallback.
type Client struct {
	api      scrapeapi.Client
	fallback Scraper
	breaker  *resilience.Breaker
	limiter  *resilience.Limiter
	ledger   *cost.Ledger
	rates    cost.Rates
	cfg      Config

	nowFunc func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithConfig overrides the default fetch configuration.
func WithConfig(cfg Config) Option {
	return func(c *Client) { c.cfg = cfg }
}

// WithBreaker supplies the breaker guarding the hosted service.
func WithBreaker(b *resilience.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithLimiter supplies the hosted service's rate limiter.
func WithLimiter(l *resilience.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithFallback replaces the default direct-fetch fallback.
func WithFallback(s Scraper) Option {
	return func(c *Client) { c.fallback = s }
}

// NewClient creates a fetch client over the hosted scraping service.
func NewClient(api scrapeapi.Client, ledger *cost.Ledger, rates cost.Rates, opts ...Option) *Client {
	c := &Client{
		api:      api,
		fallback: NewFallback(2),
		breaker:  resilience.NewBreaker(breakerName, resilience.DefaultBreakerConfig()),
		limiter:  resilience.NewLimiter(60, time.Minute),
		ledger:   ledger,
		rates:    rates,
		cfg:      DefaultConfig(),
		nowFunc:  time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Status returns the current breaker and rate limit state.
func (c *Client) Status() Status {
	return Status{
		Breaker:         c.breaker.State(),
		BreakerFailures: c.breaker.Failures(),
		RateLimitBudget: c.limiter.Budget(),
	}
}

// Fetch retrieves one URL. The outcome always carries the URL; a failed
// fetch is reported in the outcome, not as an error.
func (c *Client) Fetch(ctx context.Context, url, correlationID string) model.ScrapeOutcome {
	if c.cfg.PerURLTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.PerURLTimeout)
		defer cancel()
	}

	start := c.nowFunc()
	out := model.ScrapeOutcome{URL: url}

	content, primaryErr := c.fetchPrimary(ctx, url)
	if primaryErr == nil {
		out.Success = true
		out.Content = content
		out.Cost = c.rates.ScrapePerPage
		c.ledger.Track("scrape", 1, c.rates.ScrapePerPage, correlationID)
	} else {
		zap.L().Debug("primary scrape failed, trying fallback",
			zap.String("url", url),
			zap.Error(primaryErr),
		)
		_, content, fallbackErr := c.fallback.Scrape(ctx, url)
		if fallbackErr == nil {
			out.Success = true
			out.Content = content
			out.FallbackUsed = true
			out.Cost = c.rates.FallbackPerPage
			c.ledger.Track("fallback_scrape", 1, c.rates.FallbackPerPage, correlationID)
		} else {
			out.Error = primaryErr.Error() + "; fallback: " + fallbackErr.Error()
		}
	}

	out.Latency = c.nowFunc().Sub(start).Seconds()
	out.ScrapedAt = c.nowFunc()
	return out
}

// fetchPrimary calls the hosted service behind the limiter, breaker, and
// retry policy.
func (c *Client) fetchPrimary(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Acquire(); err != nil {
		return "", err
	}

	return resilience.RetryVal(ctx, c.cfg.Retry, func(ctx context.Context) (string, error) {
		return resilience.ExecuteVal(ctx, c.breaker, func(ctx context.Context) (string, error) {
			resp, err := c.api.Scrape(ctx, scrapeapi.ScrapeRequest{
				URL:      url,
				Formats:  []string{"markdown"},
				OnlyMain: true,
			})
			if err != nil {
				return "", classifyScrapeErr(err)
			}
			return resp.Data.Markdown, nil
		})
	})
}

// FetchBatch retrieves urls in batches of five with a pause between
// batches. Outcomes align positionally with the input; one URL failing
// never affects its neighbors.
func (c *Client) FetchBatch(ctx context.Context, urls []string, correlationID string) []model.ScrapeOutcome {
	outcomes := make([]model.ScrapeOutcome, len(urls))

	for batchStart := 0; batchStart < len(urls); batchStart += batchSize {
		end := min(batchStart+batchSize, len(urls))

		g, gCtx := errgroup.WithContext(ctx)
		for i := batchStart; i < end; i++ {
			g.Go(func() error {
				outcomes[i] = c.Fetch(gCtx, urls[i], correlationID)
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			for i := end; i < len(urls); i++ {
				outcomes[i] = model.ScrapeOutcome{URL: urls[i], Error: ctx.Err().Error(), ScrapedAt: c.nowFunc()}
			}
			break
		}

		if end < len(urls) && c.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(c.cfg.BatchPause):
			}
		}
	}
	return outcomes
}

// classifyScrapeErr marks retryable service responses as transient.
func classifyScrapeErr(err error) error {
	var apiErr *scrapeapi.APIError
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return &resilience.TransientError{Err: err, StatusCode: apiErr.StatusCode}
	}
	return err
}
