// Package cost tracks per-query API spend and produces pre-payment
// estimates from a provider pricing table.
package cost

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rates holds per-service pricing. All values are USD.
type Rates struct {
	// SearchPerPage maps a search engine to its cost per result page.
	// Free engines carry an explicit zero so their usage still produces
	// auditable ledger entries.
	SearchPerPage map[string]float64 `yaml:"search_per_page" mapstructure:"search_per_page"`

	// ScrapePerPage is the hosted scraping API cost per page.
	ScrapePerPage float64 `yaml:"scrape_per_page" mapstructure:"scrape_per_page"`

	// FallbackPerPage is the cost attributed to the local fallback scraper.
	FallbackPerPage float64 `yaml:"fallback_per_page" mapstructure:"fallback_per_page"`

	// ExtractPreviewPerPage is the capped-content model extraction cost
	// used during preview.
	ExtractPreviewPerPage float64 `yaml:"extract_preview_per_page" mapstructure:"extract_preview_per_page"`

	// ExtractFullPerPage is the full-content model extraction cost used
	// during enrichment.
	ExtractFullPerPage float64 `yaml:"extract_full_per_page" mapstructure:"extract_full_per_page"`

	// ResultsPerPage estimates how many scrapeable results one search
	// page yields, for pre-payment projections.
	ResultsPerPage int `yaml:"results_per_page" mapstructure:"results_per_page"`
}

// DefaultRates returns the default pricing table.
func DefaultRates() Rates {
	return Rates{
		SearchPerPage: map[string]float64{
			"google":     0.005,
			"bing":       0.007,
			"duckduckgo": 0,
		},
		ScrapePerPage:         0.002,
		FallbackPerPage:       0.001,
		ExtractPreviewPerPage: 0.01,
		ExtractFullPerPage:    0.05,
		ResultsPerPage:        8,
	}
}

// LoadRates reads a pricing table from a yaml file, filling gaps from the
// defaults.
func LoadRates(path string) (Rates, error) {
	rates := DefaultRates()

	data, err := os.ReadFile(path)
	if err != nil {
		return rates, eris.Wrapf(err, "cost: read rates file %s", path)
	}
	if err := yaml.Unmarshal(data, &rates); err != nil {
		return rates, eris.Wrapf(err, "cost: parse rates file %s", path)
	}

	if rates.SearchPerPage == nil {
		rates.SearchPerPage = DefaultRates().SearchPerPage
	}
	if rates.ResultsPerPage <= 0 {
		rates.ResultsPerPage = DefaultRates().ResultsPerPage
	}
	return rates, nil
}

// SearchCost returns the per-page cost for the named engine; unknown
// engines are treated as free.
func (r Rates) SearchCost(engine string) float64 {
	return r.SearchPerPage[engine]
}
