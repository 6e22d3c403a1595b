package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prospect-labs/prospector-cli/internal/model"
)

var (
	previewEngines []string
	previewPages   int
)

var previewCmd = &cobra.Command{
	Use:   "preview <query>",
	Short: "Run a preview search and print masked contacts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pages := previewPages
		if pages == 0 {
			pages = cfg.Search.MaxPages
		}
		req, err := buildRequest(args, previewEngines, pages)
		if err != nil {
			return err
		}

		result, err := env.Pipeline.CreatePreview(ctx, req)
		if err != nil {
			return eris.Wrap(err, "preview")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// buildRequest assembles a SearchRequest from CLI arguments. Engine names
// are validated here so a typo fails fast instead of silently degrading.
func buildRequest(args, engines []string, pages int) (model.SearchRequest, error) {
	req := model.SearchRequest{Query: strings.Join(args, " ")}
	for _, e := range engines {
		id := model.ProviderID(strings.ToLower(strings.TrimSpace(e)))
		switch id {
		case model.ProviderGoogle, model.ProviderBing, model.ProviderDuckDuckGo:
			req.Filters.Engines = append(req.Filters.Engines, id)
		default:
			return model.SearchRequest{}, eris.Errorf("unknown engine: %s", e)
		}
	}
	req.Filters.MaxPages = pages
	return req, nil
}

func init() {
	previewCmd.Flags().StringSliceVar(&previewEngines, "engines", nil, "engines to search (google, bing, duckduckgo; default all)")
	previewCmd.Flags().IntVar(&previewPages, "pages", 0, "max provider pages per engine (default from config)")
	rootCmd.AddCommand(previewCmd)
}
