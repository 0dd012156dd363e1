package configuration

import (
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"golang.org/x/exp/slices"

	commonconfig "github.com/uqdispatch/uqdispatch/internal/common/config"
	"github.com/uqdispatch/uqdispatch/internal/common/logging"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/iterator"
	"github.com/uqdispatch/uqdispatch/internal/jobstore"
	"github.com/uqdispatch/uqdispatch/internal/scheduler"
)

const EnvPrefix = "UQ"

// Defaults are overridden by every value present in a configuration file.
func Defaults() ExperimentConfiguration {
	retry := scheduler.DefaultRetryConfig
	return ExperimentConfiguration{
		Logging: logging.Config{Level: "info", Format: "text"},
		Polling: PollingConfig{Interval: time.Second, StatusReportInterval: time.Minute},
		Submission: SubmissionConfig{
			MaxAttempts: retry.MaxAttempts,
			Delay:       retry.Delay,
			Threads:     8,
		},
		Store: jobstore.Config{Type: jobstore.SQLiteStoreType},
	}
}

// Load reads the files matched by patterns on top of the defaults, applies UQ_* environment
// overrides and any flags set in flags, expands home directories and validates the result.
func Load(patterns []string, flags *pflag.FlagSet) (ExperimentConfiguration, error) {
	config := Defaults()
	if _, err := commonconfig.LoadConfig(&config, patterns, EnvPrefix, flags); err != nil {
		return config, err
	}
	if err := config.expandPaths(); err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func (c *ExperimentConfiguration) expandPaths() error {
	for _, p := range []*string{&c.ExperimentDir, &c.OutputDir, &c.Store.Sqlite.Path} {
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return errors.WithStack(err)
		}
		*p = expanded
	}
	if c.OutputDir == "" {
		c.OutputDir = c.ExperimentDir
	}
	if (c.Store.Type == jobstore.SQLiteStoreType || c.Store.Type == "") && c.Store.Sqlite.Path == "" && c.ExperimentDir != "" {
		c.Store.Sqlite.Path = filepath.Join(c.ExperimentDir, c.ExperimentName+".db")
	}
	return nil
}

// Validate checks the struct tags and the constraints between sections.
func (c ExperimentConfiguration) Validate() error {
	if err := commonconfig.Validate(c); err != nil {
		return err
	}
	names := map[string]bool{}
	for _, r := range c.Resources {
		if names[r.Name] {
			return errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    "resources",
				Value:   r.Name,
				Message: "resource names must be unique",
			})
		}
		names[r.Name] = true
	}
	if c.Iterator.Type == iterator.MonteCarloType {
		for _, name := range c.Interface.Parameters {
			i := slices.IndexFunc(c.Iterator.Parameters, func(p iterator.ParameterConfig) bool { return p.Name == name })
			if i < 0 {
				return errors.WithStack(&uqerrors.ErrInvalidArgument{
					Name:    "iterator.parameters",
					Value:   name,
					Message: "every interface parameter needs a distribution",
				})
			}
		}
	}
	return nil
}
