package iterator

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

type Type string

const (
	MonteCarloType Type = "monte_carlo"
	DataType       Type = "data"
)

type Distribution string

const (
	Uniform Distribution = "uniform"
	Normal  Distribution = "normal"
)

func ParseDistribution(s string) (Distribution, error) {
	d := Distribution(strings.ToLower(strings.TrimSpace(s)))
	switch d {
	case Uniform, Normal:
		return d, nil
	}
	return "", errors.WithStack(&uqerrors.ErrInvalidArgument{
		Name:    "distribution",
		Value:   s,
		Message: "expected uniform or normal",
	})
}

func (d *Distribution) UnmarshalText(text []byte) error {
	parsed, err := ParseDistribution(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type ParameterConfig struct {
	Name         string `validate:"required"`
	Distribution Distribution
	// Bounds of a uniform distribution.
	Lower float64
	Upper float64
	// Moments of a normal distribution.
	Mean float64
	Std  float64 `validate:"gte=0"`
}

type Config struct {
	Type Type `validate:"required,oneof=monte_carlo data"`
	// Number of Monte Carlo samples.
	NumSamples int `validate:"gte=0"`
	// Samples per call to the model. 0 evaluates all samples in one batch.
	BatchSize int `validate:"gte=0"`
	Seed      int64
	// Csv file with one column per parameter and a header row naming them.
	DataFile   string
	Parameters []ParameterConfig `validate:"dive"`
}
