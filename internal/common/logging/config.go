package logging

import (
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	// Level is any level understood by logrus.ParseLevel, e.g. "debug" or "info".
	Level string
	// Format is one of "text", "json" or "cli".
	Format string
}

// ConfigureLogging sets up the global logrus logger.
func ConfigureLogging(config Config, out io.Writer) error {
	if out == nil {
		out = os.Stdout
	}
	level := log.InfoLevel
	if config.Level != "" {
		parsed, err := log.ParseLevel(config.Level)
		if err != nil {
			return errors.WithStack(err)
		}
		level = parsed
	}
	formatter, err := formatterFor(config.Format)
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetFormatter(formatter)
	log.SetOutput(out)
	return nil
}

func formatterFor(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return &log.TextFormatter{ForceColors: true, FullTimestamp: true}, nil
	case "json":
		return &log.JSONFormatter{}, nil
	case "cli":
		return &CommandLineFormatter{}, nil
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
}
