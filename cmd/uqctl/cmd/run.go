package cmd

import (
	"github.com/spf13/cobra"

	"github.com/uqdispatch/uqdispatch/internal/common/app"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/uqctl"
)

func runCmd(a *uqctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an experiment",
		Long: `Run the iterator of an experiment to completion, dispatching one job per sample to the configured
resources. Job statuses are persisted to the configured store while the run progresses.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Run(app.CreateContextWithShutdown(uqcontext.FromContext(cmd.Context()).Log))
		},
	}
	cmd.Flags().Bool("restart", false, "Reuse the results of jobs already completed by an earlier run of the experiment")
	configKey(cmd.Flags(), "restart", "interface.restart")
	cmd.Flags().String("experiment-dir", "", "Override experimentDir from the configuration")
	configKey(cmd.Flags(), "experiment-dir", "experimentDir")
	return cmd
}
