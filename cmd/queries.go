package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prospect-labs/prospector-cli/internal/model"
	"github.com/prospect-labs/prospector-cli/internal/store"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Inspect search query history",
	Long:  "Commands for listing and viewing stored search queries.",
}

// -- queries list --

var queriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored queries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		queries, err := st.ListQueries(ctx, store.QueryFilter{
			Status: model.SearchStatus(status),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			return eris.Wrap(err, "queries list")
		}

		if len(queries) == 0 {
			fmt.Fprintln(os.Stderr, "No queries found.")
			return nil
		}

		formatQueriesList(os.Stdout, queries)
		return nil
	},
}

// -- queries show --

var queriesShowCmd = &cobra.Command{
	Use:   "show <query-id>",
	Short: "Show full details of a query, including contacts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		q, err := st.GetQuery(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "queries show")
		}
		contacts, err := st.ListContacts(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "queries show contacts")
		}

		out := struct {
			Query    *model.SearchQuery             `json:"query"`
			Contacts map[string]model.ContactRecord `json:"contacts,omitempty"`
		}{Query: q, Contacts: contacts}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// -- queries costs --

var queriesCostsCmd = &cobra.Command{
	Use:   "costs <query-id>",
	Short: "Show the per-service cost entries recorded for a query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		entries, err := st.ListCostEntries(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "queries costs")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "No cost entries found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SERVICE\tREQUESTS\tUNIT\tTOTAL\tRECORDED")
		var total float64
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%d\t$%.4f\t$%.4f\t%s\n",
				e.Service, e.Requests, e.UnitCost, e.TotalCost,
				e.RecordedAt.Format(time.RFC3339))
			total += e.TotalCost
		}
		fmt.Fprintf(w, "\t\t\t$%.4f\t\n", total)
		return w.Flush()
	},
}

func formatQueriesList(w io.Writer, queries []model.SearchQuery) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tQUERY\tRESULTS\tCOST\tCREATED")
	for _, q := range queries {
		query := q.Request.Query
		if len(query) > 40 {
			query = query[:37] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			q.ID, q.Status, query, q.TotalResults, q.TotalCost,
			q.CreatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func init() {
	queriesListCmd.Flags().String("status", "", "filter by status (preview, paid, enriching, ready, failed)")
	queriesListCmd.Flags().Int("limit", 50, "max queries to list")
	queriesListCmd.Flags().Int("offset", 0, "queries to skip")

	queriesCmd.AddCommand(queriesListCmd)
	queriesCmd.AddCommand(queriesShowCmd)
	queriesCmd.AddCommand(queriesCostsCmd)
	rootCmd.AddCommand(queriesCmd)
}
