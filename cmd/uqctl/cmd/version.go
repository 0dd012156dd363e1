package cmd

import (
	"github.com/spf13/cobra"

	"github.com/uqdispatch/uqdispatch/internal/uqctl"
)

func versionCmd(a *uqctl.App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Version()
		},
	}
	return cmd
}
