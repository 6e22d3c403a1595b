package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/prospect-labs/prospector-cli/internal/jobs"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment worker",
	Long: `Connects to the Temporal server and processes enrichment jobs from
the task queue until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		c := env.Temporal
		if c == nil {
			// The worker cannot run degraded; dial explicitly so the
			// failure is an error rather than a warning.
			c, err = client.Dial(client.Options{
				HostPort:  cfg.Temporal.HostPort,
				Namespace: cfg.Temporal.Namespace,
				Logger:    jobs.NewZapAdapter(zap.L()),
			})
			if err != nil {
				return eris.Wrap(err, "temporal dial")
			}
			defer c.Close()
		}

		zap.L().Info("starting enrichment worker",
			zap.String("host_port", cfg.Temporal.HostPort),
			zap.String("task_queue", jobs.TaskQueue),
		)
		if err := jobs.RunWorker(c, env.Pipeline); err != nil {
			return eris.Wrap(err, "worker")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
