package model

import (
	"net/url"
	"strings"
	"time"
)

// ProviderResult is a single item as returned by one search provider.
type ProviderResult struct {
	URL     string     `json:"url"`
	Title   string     `json:"title"`
	Snippet string     `json:"snippet"`
	Engine  ProviderID `json:"engine"`
	Rank    int        `json:"rank"` // 1-based within the provider's ordering
	Page    int        `json:"page"`
}

// RankedResult is a deduplicated, merged result across providers. The URL is
// the unique key within a query; Rank is the minimum of the per-engine ranks.
type RankedResult struct {
	URL           string             `json:"url"`
	Title         string             `json:"title"`
	Snippet       string             `json:"snippet"`
	SourceEngines []ProviderID       `json:"source_engines"`
	EngineRanks   map[ProviderID]int `json:"engine_ranks"`
	Rank          int                `json:"rank"`
}

// ScrapeOutcome records the fetch attempt for one ranked result.
type ScrapeOutcome struct {
	URL          string    `json:"url"`
	Success      bool      `json:"success"`
	Content      string    `json:"content,omitempty"`
	Error        string    `json:"error,omitempty"`
	Cost         float64   `json:"cost"`
	Latency      float64   `json:"latency"` // seconds
	FallbackUsed bool      `json:"fallback_used"`
	ScrapedAt    time.Time `json:"scraped_at"`
}

// StoredResult is a ranked result with its scrape outcome, as persisted.
type StoredResult struct {
	ID      string         `json:"id"`
	QueryID string         `json:"query_id"`
	Result  RankedResult   `json:"result"`
	Scrape  *ScrapeOutcome `json:"scrape,omitempty"`
}

// NormalizeURL canonicalizes a URL for deduplication: lowercased scheme and
// host, default ports and trailing slashes dropped, fragment removed.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimRight(strings.ToLower(strings.TrimSpace(raw)), "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	switch {
	case u.Scheme == "http" && strings.HasSuffix(u.Host, ":80"):
		u.Host = strings.TrimSuffix(u.Host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(u.Host, ":443"):
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String()
}
