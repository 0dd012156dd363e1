package uqctl

import (
	"fmt"

	"github.com/uqdispatch/uqdispatch/internal/common/logging"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/experiment"
)

// Run runs the configured experiment to completion.
func (a *App) Run(ctx *uqcontext.Context) error {
	config, err := a.loadConfig()
	if err != nil {
		return err
	}
	if err := logging.ConfigureLogging(config.Logging, nil); err != nil {
		return err
	}

	e, err := experiment.StartUp(ctx, config, experiment.Options{})
	if err != nil {
		return err
	}
	defer e.Close()
	if err := e.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "Run %s of %s finished, results in %s\n", e.RunId(), config.ExperimentName, config.OutputDir)
	return nil
}
