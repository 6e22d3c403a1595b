package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

var payCmd = &cobra.Command{
	Use:   "pay <query-id>",
	Short: "Mark a preview query paid and dispatch enrichment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.MarkPaid(ctx, args[0]); err != nil {
			return eris.Wrap(err, "pay")
		}

		if env.Temporal == nil {
			fmt.Printf("Query %s marked paid. Run `prospector-cli enrich %s` to enrich it.\n", args[0], args[0])
			return nil
		}
		fmt.Printf("Query %s marked paid, enrichment dispatched.\n", args[0])
		return nil
	},
}

var enrichCmd = &cobra.Command{
	Use:   "enrich <query-id>",
	Short: "Run enrichment for a paid query in-process",
	Long: `Runs the full search, scrape, and extraction pass for a paid query
without going through the job queue. Useful when no Temporal server is
available or to re-drive a failed run.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Pipeline.RunEnrichment(ctx, args[0]); err != nil {
			return eris.Wrap(err, "enrich")
		}

		summary, err := env.Pipeline.GetStatus(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "enrich status")
		}
		if summary.Status == model.StatusReady {
			fmt.Printf("Query %s enriched: %d contacts from %d results ($%.4f total).\n",
				args[0], summary.ContactCount, summary.TotalResults, summary.TotalCost)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(payCmd)
	rootCmd.AddCommand(enrichCmd)
}
