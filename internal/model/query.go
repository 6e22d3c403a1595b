// Package model defines the core domain types for the prospecting pipeline.
package model

import (
	"time"
)

// ProviderID identifies a search engine or data source.
type ProviderID string

const (
	ProviderGoogle     ProviderID = "google"
	ProviderBing       ProviderID = "bing"
	ProviderDuckDuckGo ProviderID = "duckduckgo"
)

// DefaultProviders is the engine set used when a request does not name any.
func DefaultProviders() []ProviderID {
	return []ProviderID{ProviderGoogle, ProviderBing, ProviderDuckDuckGo}
}

// SearchStatus represents the funnel state of a search query.
type SearchStatus string

const (
	StatusPreview   SearchStatus = "preview"
	StatusPaid      SearchStatus = "paid"
	StatusEnriching SearchStatus = "enriching"
	StatusReady     SearchStatus = "ready"
	StatusFailed    SearchStatus = "failed"
)

// Terminal reports whether no further transitions are allowed from s.
func (s SearchStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// statusOrder gives the forward progression of the funnel. Failed is
// reachable from any non-terminal state and is not part of the order.
var statusOrder = map[SearchStatus]int{
	StatusPreview:   0,
	StatusPaid:      1,
	StatusEnriching: 2,
	StatusReady:     3,
}

// CanTransition reports whether moving from s to next is a legal funnel
// transition: one step forward, or to failed from any non-terminal state.
func (s SearchStatus) CanTransition(next SearchStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == StatusFailed {
		return true
	}
	from, okFrom := statusOrder[s]
	to, okTo := statusOrder[next]
	if !okFrom || !okTo {
		return false
	}
	return to == from+1
}

// SearchFilters narrows a search request. Immutable once submitted.
type SearchFilters struct {
	Engines      []ProviderID `json:"engines,omitempty"`
	MaxPages     int          `json:"max_pages,omitempty"`
	CacheResults bool         `json:"cache_results,omitempty"`
}

// SearchRequest is the caller-supplied input for a new search.
type SearchRequest struct {
	Query   string        `json:"query"`
	Filters SearchFilters `json:"filters"`
}

// Normalize applies defaults to a request without mutating the original.
func (r SearchRequest) Normalize() SearchRequest {
	if len(r.Filters.Engines) == 0 {
		r.Filters.Engines = DefaultProviders()
	}
	if r.Filters.MaxPages < 1 {
		r.Filters.MaxPages = 1
	}
	return r
}

// SearchQuery is the aggregate root for one funnel traversal. It is owned
// by the pipeline and mutated only through status transitions.
type SearchQuery struct {
	ID             string                   `json:"id"`
	Request        SearchRequest            `json:"request"`
	Status         SearchStatus             `json:"status"`
	TotalCost      float64                  `json:"total_cost"`
	CostBreakdown  map[string]ServiceCost   `json:"cost_breakdown,omitempty"`
	PagesProcessed int                      `json:"pages_processed"`
	TotalResults   int                      `json:"total_results"`
	ProviderRaw    map[string][]RawPayload  `json:"provider_raw,omitempty"`
	ProcessingTime float64                  `json:"processing_time,omitempty"` // seconds
	Error          string                   `json:"error,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// ServiceCost is one service's slice of a query's cost breakdown.
type ServiceCost struct {
	Requests int     `json:"requests"`
	Cost     float64 `json:"cost"`
}

// RawPayload archives one raw provider response page for later reuse.
type RawPayload struct {
	Page      int       `json:"page"`
	Body      []byte    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}
