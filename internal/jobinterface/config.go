package jobinterface

import (
	"math"
	"time"
)

type Config struct {
	Name string
	// Parameter names in the column order of the sample matrix.
	Parameters []string `validate:"required,min=1,unique"`
	// Value written into every output column of a sample whose job failed or broke. Defaults to NaN.
	Placeholder *float64
	// Also return the gradient of every result.
	Gradient bool
	// Reuse completed jobs of the same batch found in the store instead of running them again.
	Restart bool
	// Idle delay between two rounds of completion checks.
	PollingInterval time.Duration `validate:"gte=0"`
	// Number of jobs submitted concurrently.
	SubmissionThreads int `validate:"gte=0"`
}

func (c Config) placeholder() float64 {
	if c.Placeholder == nil {
		return math.NaN()
	}
	return *c.Placeholder
}

func (c Config) pollingInterval() time.Duration {
	if c.PollingInterval <= 0 {
		return time.Second
	}
	return c.PollingInterval
}

func (c Config) submissionThreads() int {
	if c.SubmissionThreads <= 0 {
		return 8
	}
	return c.SubmissionThreads
}
