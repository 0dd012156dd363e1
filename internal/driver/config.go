package driver

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

type ResultFormat string

const (
	CsvFormat  ResultFormat = "csv"
	YamlFormat ResultFormat = "yaml"
	JsonFormat ResultFormat = "json"
)

func (f *ResultFormat) UnmarshalText(text []byte) error {
	switch s := ResultFormat(strings.ToLower(string(text))); s {
	case CsvFormat, YamlFormat, JsonFormat:
		*f = s
		return nil
	case "":
		*f = CsvFormat
		return nil
	default:
		return errors.Errorf("unknown result format %q, expected one of csv, yaml, json", string(text))
	}
}

type Config struct {
	Name       string
	Executable string `validate:"required"`
	// Launcher prefix such as ["mpirun", "-np"]; the process count is appended to it.
	// Left empty, the executable is started directly.
	MpiCommand []string
	NumProcs   int `validate:"gte=0"`
	// Text template rendered with the job parameters, e.g. "x = {{ .x }}". Left empty, no input
	// file is written and none is passed to the executable.
	InputTemplate  string
	InputExtension string
	PostProcessor  string
	PostOptions    []string
	NumProcsPost   int `validate:"gte=0"`
	// Name of the result file inside the job output directory. Defaults to <prefix>.<format>.
	ResultFile   string
	ResultFormat ResultFormat
	// A line of simulation output matching this pattern fails the job.
	ErrorPattern *regexp.Regexp
	// Glob patterns of supporting files copied to the experiment directory before the run.
	FilesToCopy []string
}

func (c Config) inputExtension() string {
	if c.InputExtension == "" {
		return ".dat"
	}
	return c.InputExtension
}

func (c Config) resultFormat() ResultFormat {
	if c.ResultFormat == "" {
		return CsvFormat
	}
	return c.ResultFormat
}
