package configuration

import (
	"time"

	"github.com/uqdispatch/uqdispatch/internal/common/logging"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/iterator"
	"github.com/uqdispatch/uqdispatch/internal/jobstore"
	"github.com/uqdispatch/uqdispatch/internal/scheduler"
)

type ExperimentConfiguration struct {
	ExperimentName string `validate:"required"`
	// Local directory holding the job directories of every batch.
	ExperimentDir string `validate:"required"`
	// Directory the iterator results are written to. Defaults to ExperimentDir.
	OutputDir string

	Logging    logging.Config
	Polling    PollingConfig
	Submission SubmissionConfig
	Store      jobstore.Config
	Resources  []ResourceConfig `validate:"required,min=1,dive"`
	Driver     driver.Config
	Interface  InterfaceConfig
	Iterator   iterator.Config
	Metrics    MetricsConfig
}

type PollingConfig struct {
	// Idle delay between two rounds of completion checks.
	Interval time.Duration `validate:"gt=0"`
	// Interval of the job status report in the log. Zero disables the report.
	StatusReportInterval time.Duration `validate:"gte=0"`
}

type SubmissionConfig struct {
	MaxAttempts uint          `validate:"gte=1"`
	Delay       time.Duration `validate:"gte=0"`
	// Number of jobs submitted concurrently.
	Threads int `validate:"gte=1"`
}

type ResourceConfig struct {
	Name string `validate:"required"`
	// Zero means no limit.
	MaxConcurrent int `validate:"gte=0"`
	Scheduler     scheduler.Config
}

type InterfaceConfig struct {
	Name       string
	Parameters []string `validate:"required,min=1,unique"`
	// Output value of samples whose job failed. Defaults to NaN.
	Placeholder *float64
	Gradient    bool
	Restart     bool
}

type MetricsConfig struct {
	// Zero disables the metrics server.
	Port uint16
}
