package uqctl

import (
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"

	commonconfig "github.com/uqdispatch/uqdispatch/internal/common/config"
	"github.com/uqdispatch/uqdispatch/internal/experiment/configuration"
)

// DefaultConfigFile is read, if present, before the files given on the command line.
const DefaultConfigFile = "~/.uqctl.yaml"

// App is the uqctl command line application. Output meant for the user goes to Out; logs go to the
// global logger.
type App struct {
	Params *Params
	Out    io.Writer
}

type Params struct {
	ConfigFiles []string
	// Flags set on the command line take precedence over configuration files and the environment.
	Overrides *pflag.FlagSet
}

func New() *App {
	return &App{
		Params: &Params{},
		Out:    os.Stdout,
	}
}

func (a *App) configFiles() ([]string, error) {
	files := []string{}
	defaultFile, err := homedir.Expand(DefaultConfigFile)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if _, err := os.Stat(defaultFile); err == nil {
		files = append(files, defaultFile)
	}
	files = append(files, a.Params.ConfigFiles...)
	if len(files) == 0 {
		return nil, errors.Errorf("no configuration given, pass --config or create %s", DefaultConfigFile)
	}
	return files, nil
}

func (a *App) loadConfig() (configuration.ExperimentConfiguration, error) {
	files, err := a.configFiles()
	if err != nil {
		return configuration.ExperimentConfiguration{}, err
	}
	config, err := configuration.Load(files, a.Params.Overrides)
	if err != nil {
		commonconfig.LogValidationErrors(errors.Cause(err))
		return config, err
	}
	return config, nil
}
