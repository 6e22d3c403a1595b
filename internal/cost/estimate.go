package cost

import (
	"github.com/prospect-labs/prospector-cli/internal/model"
)

// EstimateParams describes the work an estimate should price.
type EstimateParams struct {
	Engines  []model.ProviderID
	MaxPages int
	// ScrapePages overrides the derived scrape page count when >= 0.
	// Leave at -1 to derive from engines, pages and ResultsPerPage.
	ScrapePages int
	DoScrape    bool
	DoEnrich    bool
}

// Estimate is an advisory price quote for a search. Billing always follows
// the ledger's tracked actuals, never this figure.
type Estimate struct {
	SearchCost  float64            `json:"search_cost"`
	ScrapeCost  float64            `json:"scrape_cost"`
	ExtractCost float64            `json:"extract_cost"`
	Total       float64            `json:"total"`
	PerEngine   map[string]float64 `json:"per_engine"`
	ScrapePages int                `json:"scrape_pages"`
}

// Estimator prices planned work from a rate card.
type Estimator struct {
	rates Rates
}

// NewEstimator creates an estimator over the given rate card.
func NewEstimator(rates Rates) *Estimator {
	return &Estimator{rates: rates}
}

// Estimate prices the described work compositionally: each engine's pages
// at that engine's rate, scraping at the per-page scrape rate over the
// expected result volume, and full extraction over that same volume
// when enriching.
func (e *Estimator) Estimate(p EstimateParams) Estimate {
	if p.MaxPages <= 0 {
		p.MaxPages = 1
	}
	engines := p.Engines
	if len(engines) == 0 {
		engines = model.DefaultProviders()
	}

	est := Estimate{PerEngine: make(map[string]float64, len(engines))}

	var searchMicros int64
	for _, eng := range engines {
		engineCost := e.rates.SearchCost(string(eng)) * float64(p.MaxPages)
		est.PerEngine[string(eng)] = round4(engineCost)
		searchMicros += dollarsToMicros(engineCost)
	}
	est.SearchCost = microsToDollars(searchMicros)

	pages := p.ScrapePages
	if pages < 0 {
		pages = len(engines) * p.MaxPages * e.rates.ResultsPerPage
	}

	var scrapeMicros int64
	if p.DoScrape {
		est.ScrapePages = pages
		scrapeMicros = dollarsToMicros(e.rates.ScrapePerPage * float64(pages))
		est.ScrapeCost = microsToDollars(scrapeMicros)
	}

	// Extraction bills per scraped page, so the full pass scales with
	// the expected page volume.
	var extractMicros int64
	if p.DoEnrich {
		extractMicros = dollarsToMicros(e.rates.ExtractFullPerPage * float64(pages))
	} else {
		extractMicros = dollarsToMicros(e.rates.ExtractPreviewPerPage)
	}
	est.ExtractCost = microsToDollars(extractMicros)

	est.Total = microsToDollars(searchMicros + scrapeMicros + extractMicros)
	return est
}

func dollarsToMicros(v float64) int64 {
	return int64(v*microsPerDollar + 0.5)
}

func microsToDollars(m int64) float64 {
	return round4(float64(m) / microsPerDollar)
}
