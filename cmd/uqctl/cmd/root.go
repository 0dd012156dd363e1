package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	commonconfig "github.com/uqdispatch/uqdispatch/internal/common/config"

	"github.com/uqdispatch/uqdispatch/internal/uqctl"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	app := uqctl.New()
	cmd := &cobra.Command{
		Use:           "uqctl",
		Short:         "uqctl runs uncertainty quantification experiments over local, cluster and kubernetes resources.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVarP(
		&app.Params.ConfigFiles,
		"config", "c",
		[]string{},
		"Experiment configuration file (for multiple files repeat this arg or separate paths with commas; later files override earlier ones)")
	cmd.PersistentFlags().String("log-level", "", "Override logging.level from the configuration")
	configKey(cmd.PersistentFlags(), "log-level", "logging.level")
	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		app.Params.Overrides = cmd.Flags()
	}

	cmd.AddCommand(
		runCmd(app),
		jobsCmd(app),
		versionCmd(app),
	)
	return cmd
}

// configKey marks flag as an override of the configuration value at key.
func configKey(flags *pflag.FlagSet, flag, key string) {
	if err := flags.SetAnnotation(flag, commonconfig.ConfigKeyAnnotation, []string{key}); err != nil {
		panic(err)
	}
}
