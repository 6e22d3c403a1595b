package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/prospect-labs/prospector-cli/internal/cost"
)

var (
	estimateEngines []string
	estimatePages   int
)

var estimateCmd = &cobra.Command{
	Use:   "estimate <query>",
	Short: "Quote the cost of a full search without running it",
	Long: `Prices the search, scrape, and extraction work a full run of the
given query would perform. The quote is advisory; billing always follows
tracked actuals.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pages := estimatePages
		if pages == 0 {
			pages = cfg.Search.MaxPages
		}
		req, err := buildRequest(args, estimateEngines, pages)
		if err != nil {
			return err
		}

		rates := cost.DefaultRates()
		if cfg.Rates.Path != "" {
			rates, err = cost.LoadRates(cfg.Rates.Path)
			if err != nil {
				return err
			}
		}

		req = req.Normalize()
		est := cost.NewEstimator(rates).Estimate(cost.EstimateParams{
			Engines:     req.Filters.Engines,
			MaxPages:    req.Filters.MaxPages,
			ScrapePages: -1,
			DoScrape:    true,
			DoEnrich:    true,
		})

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(est)
	},
}

func init() {
	estimateCmd.Flags().StringSliceVar(&estimateEngines, "engines", nil, "engines to price (default all)")
	estimateCmd.Flags().IntVar(&estimatePages, "pages", 0, "max provider pages per engine (default from config)")
	rootCmd.AddCommand(estimateCmd)
}
