package cmd

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/uqctl"
)

func jobsCmd(a *uqctl.App) *cobra.Command {
	var batch int
	var status string
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the persisted jobs of an experiment",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !job.Status(status).Valid() {
				return errors.Errorf("unknown status %q", status)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Jobs(uqcontext.FromContext(cmd.Context()), batch, status)
		},
	}
	cmd.Flags().IntVarP(&batch, "batch", "b", 0, "Only show jobs of this batch (0 shows every batch)")
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only show jobs in this status (new, pending, complete, failed, broken)")
	return cmd
}
