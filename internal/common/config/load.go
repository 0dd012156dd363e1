package config

import (
	"strings"

	"github.com/mattn/go-zglob"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ConfigKeyAnnotation is the pflag annotation naming the configuration key a flag overrides. Flags
// without it override the key equal to their name.
const ConfigKeyAnnotation = "config_key"

// LoadConfig reads every file matched by the given patterns into config, later files overriding
// earlier ones. Any key may also be overridden from the environment as <envPrefix>_<KEY_PATH>,
// e.g. UQ_POLLING_INTERVAL for polling.interval, and by flags that were set on the command line.
func LoadConfig(config interface{}, patterns []string, envPrefix string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, pattern := range patterns {
		filePaths, err := zglob.Glob(pattern)
		if err != nil {
			return nil, errors.WithMessagef(err, "no config file matches %s", pattern)
		}
		for _, path := range filePaths {
			log.Infof("Loading config from %s", path)
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, errors.WithMessagef(err, "failed to read in config %s", path)
			}
		}
	}

	if err := bindFlags(v, flags); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(config, CustomHooks...); err != nil {
		return nil, errors.WithStack(err)
	}
	return v, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}
	var err error
	flags.Visit(func(f *pflag.Flag) {
		key := f.Name
		if keys := f.Annotations[ConfigKeyAnnotation]; len(keys) > 0 {
			key = keys[0]
		}
		if bindErr := v.BindPFlag(key, f); bindErr != nil && err == nil {
			err = errors.WithStack(bindErr)
		}
	})
	return err
}
