package iterator

import (
	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/jobinterface"
)

// Model evaluates a matrix of samples, one row per sample, and returns the outputs in row order.
type Model interface {
	Evaluate(ctx *uqcontext.Context, samples [][]float64) (*jobinterface.Output, error)
}

// Iterator is an algorithm that drives a model. Run calls the phases in order and stops at the first error.
type Iterator interface {
	Name() string
	Initialize(ctx *uqcontext.Context) error
	PreRun(ctx *uqcontext.Context) error
	CoreRun(ctx *uqcontext.Context) error
	PostRun(ctx *uqcontext.Context) error
	Finalize(ctx *uqcontext.Context) error
}

type phase struct {
	name string
	fn   func(ctx *uqcontext.Context) error
}

func Run(ctx *uqcontext.Context, it Iterator) error {
	ctx = uqcontext.WithLogField(ctx, "iterator", it.Name())
	phases := []phase{
		{"initialize", it.Initialize},
		{"pre-run", it.PreRun},
		{"core run", it.CoreRun},
		{"post-run", it.PostRun},
		{"finalize", it.Finalize},
	}
	for _, p := range phases {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}
		ctx.Log.Debugf("starting %s", p.name)
		if err := p.fn(ctx); err != nil {
			return errors.WithMessagef(err, "%s of %s failed", p.name, it.Name())
		}
	}
	ctx.Log.Info("iterator finished")
	return nil
}

// Options are shared by all iterators.
type Options struct {
	ExperimentName string
	// Directory the results file is written to. Nothing is written if empty.
	OutputDir string
	// Parameter names in the column order the model expects.
	ParameterNames []string
}

// New builds the iterator selected by config.Type.
func New(config Config, model Model, opts Options) (Iterator, error) {
	switch config.Type {
	case MonteCarloType:
		return NewMonteCarlo(config, model, opts)
	case DataType:
		return NewData(config, model, opts)
	}
	return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
		Name:    "iterator.type",
		Value:   config.Type,
		Message: "expected monte_carlo or data",
	})
}

// evaluateInBatches calls the model once per chunk of batchSize samples and concatenates the outputs.
func evaluateInBatches(ctx *uqcontext.Context, model Model, samples [][]float64, batchSize int) (*jobinterface.Output, error) {
	if batchSize <= 0 {
		batchSize = len(samples)
	}
	combined := &jobinterface.Output{}
	for start := 0; start < len(samples); start += batchSize {
		end := start + batchSize
		if end > len(samples) {
			end = len(samples)
		}
		output, err := model.Evaluate(ctx, samples[start:end])
		if err != nil {
			return nil, err
		}
		if len(output.Result) != end-start {
			return nil, errors.Errorf("model returned %d rows for %d samples", len(output.Result), end-start)
		}
		failed := output.Failed
		if failed == nil {
			failed = make([]bool, len(output.Result))
		}
		combined.Result = append(combined.Result, output.Result...)
		combined.Gradient = append(combined.Gradient, output.Gradient...)
		combined.Failed = append(combined.Failed, failed...)
		ctx.Log.Infof("evaluated %d of %d samples", end, len(samples))
	}
	return combined, nil
}

// sampling holds the state shared by iterators that evaluate a fixed set of samples and summarise the
// outputs. Iterators embed it and provide Initialize and PreRun, which fill samples.
type sampling struct {
	kind    Type
	config  Config
	model   Model
	opts    Options
	samples [][]float64
	output  *jobinterface.Output
	results *Results
}

func (s *sampling) Name() string {
	return string(s.kind)
}

func (s *sampling) CoreRun(ctx *uqcontext.Context) error {
	output, err := evaluateInBatches(ctx, s.model, s.samples, s.config.BatchSize)
	if err != nil {
		return err
	}
	s.output = output
	return nil
}

func (s *sampling) PostRun(ctx *uqcontext.Context) error {
	if s.output == nil {
		return errors.New("no outputs to summarise")
	}
	mean, variance, numFailed := summarize(s.output.Result, s.output.Failed)
	s.results = &Results{
		ExperimentName: s.opts.ExperimentName,
		Iterator:       s.kind,
		Parameters:     s.opts.ParameterNames,
		NumSamples:     len(s.samples),
		NumFailed:      numFailed,
		Mean:           mean,
		Variance:       variance,
		Samples:        s.samples,
		Outputs:        s.output.Result,
		Gradients:      s.output.Gradient,
	}
	if numFailed > 0 {
		ctx.Log.Warnf("%d of %d samples failed", numFailed, len(s.samples))
	}
	ctx.Log.WithField("mean", mean).WithField("variance", variance).Info("output statistics")
	return nil
}

func (s *sampling) Finalize(ctx *uqcontext.Context) error {
	if s.opts.OutputDir == "" || s.results == nil {
		return nil
	}
	path, err := WriteResults(s.opts.OutputDir, s.results)
	if err != nil {
		return err
	}
	ctx.Log.Infof("results written to %s", path)
	return nil
}

// Results returns the summary built by PostRun, or nil before it has run.
func (s *sampling) Results() *Results {
	return s.results
}
