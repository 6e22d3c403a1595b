// Package search fans a query out to multiple engines and merges their
// results into one ranked, deduplicated list.
package search

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/resilience"
	"github.com/prospect-labs/prospector-cli/pkg/bing"
	"github.com/prospect-labs/prospector-cli/pkg/duckduckgo"
	"github.com/prospect-labs/prospector-cli/pkg/google"
)

// Provider fetches one page of results from a single engine.
type Provider interface {
	ID() model.ProviderID
	// Search fetches one 1-based page. A transient failure is reported
	// as a resilience.TransientError so callers can retry.
	Search(ctx context.Context, query string, page int) ([]model.ProviderResult, error)
}

// GoogleProvider adapts the Custom Search client.
type GoogleProvider struct {
	Client google.Client
}

func (p *GoogleProvider) ID() model.ProviderID { return model.ProviderGoogle }

func (p *GoogleProvider) Search(ctx context.Context, query string, page int) ([]model.ProviderResult, error) {
	resp, err := p.Client.Search(ctx, query, page)
	if err != nil {
		var apiErr *google.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, &resilience.TransientError{Err: err, StatusCode: apiErr.StatusCode}
		}
		return nil, eris.Wrapf(err, "search: google page %d", page)
	}

	out := make([]model.ProviderResult, 0, len(resp.Items))
	for i, item := range resp.Items {
		out = append(out, model.ProviderResult{
			URL:     item.Link,
			Title:   item.Title,
			Snippet: item.Snippet,
			Engine:  model.ProviderGoogle,
			Rank:    pageRank(page, i),
			Page:    page,
		})
	}
	return out, nil
}

// BingProvider adapts the Web Search v7 client.
type BingProvider struct {
	Client bing.Client
}

func (p *BingProvider) ID() model.ProviderID { return model.ProviderBing }

func (p *BingProvider) Search(ctx context.Context, query string, page int) ([]model.ProviderResult, error) {
	resp, err := p.Client.Search(ctx, query, page)
	if err != nil {
		var apiErr *bing.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, &resilience.TransientError{Err: err, StatusCode: apiErr.StatusCode}
		}
		return nil, eris.Wrapf(err, "search: bing page %d", page)
	}

	out := make([]model.ProviderResult, 0, len(resp.WebPages.Value))
	for i, item := range resp.WebPages.Value {
		out = append(out, model.ProviderResult{
			URL:     item.URL,
			Title:   item.Name,
			Snippet: item.Snippet,
			Engine:  model.ProviderBing,
			Rank:    pageRank(page, i),
			Page:    page,
		})
	}
	return out, nil
}

// DuckDuckGoProvider adapts the keyless HTML client.
type DuckDuckGoProvider struct {
	Client duckduckgo.Client
}

func (p *DuckDuckGoProvider) ID() model.ProviderID { return model.ProviderDuckDuckGo }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string, page int) ([]model.ProviderResult, error) {
	results, err := p.Client.Search(ctx, query, page)
	if err != nil {
		var apiErr *duckduckgo.APIError
		if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
			return nil, &resilience.TransientError{Err: err, StatusCode: apiErr.StatusCode}
		}
		return nil, eris.Wrapf(err, "search: duckduckgo page %d", page)
	}

	out := make([]model.ProviderResult, 0, len(results))
	for i, r := range results {
		out = append(out, model.ProviderResult{
			URL:     r.URL,
			Title:   r.Title,
			Snippet: r.Snippet,
			Engine:  model.ProviderDuckDuckGo,
			Rank:    pageRank(page, i),
			Page:    page,
		})
	}
	return out, nil
}

// pageRank converts a position on a page to a 1-based rank across the
// engine's whole ordering, assuming 10 results per page.
func pageRank(page, index int) int {
	return (page-1)*10 + index + 1
}

// serviceName is the ledger service label for an engine.
func serviceName(id model.ProviderID) string {
	return string(id) + "_search"
}
