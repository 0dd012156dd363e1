package iterator

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

// MonteCarlo evaluates the model at NumSamples points drawn from the parameter distributions and
// reports the mean and variance of every output.
type MonteCarlo struct {
	sampling
	distributions []distuv.Rander
}

func NewMonteCarlo(config Config, model Model, opts Options) (*MonteCarlo, error) {
	if config.NumSamples <= 0 {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "iterator.numSamples",
			Value:   config.NumSamples,
			Message: "must be positive",
		})
	}
	if len(opts.ParameterNames) == 0 {
		for _, p := range config.Parameters {
			opts.ParameterNames = append(opts.ParameterNames, p.Name)
		}
	}
	return &MonteCarlo{sampling: sampling{kind: MonteCarloType, config: config, model: model, opts: opts}}, nil
}

// Initialize builds one distribution per model parameter, in model column order. All of them draw
// from a single source seeded with config.Seed.
func (mc *MonteCarlo) Initialize(_ *uqcontext.Context) error {
	byName := make(map[string]ParameterConfig, len(mc.config.Parameters))
	for _, p := range mc.config.Parameters {
		byName[p.Name] = p
	}
	src := rand.NewSource(uint64(mc.config.Seed))
	mc.distributions = make([]distuv.Rander, 0, len(mc.opts.ParameterNames))
	for _, name := range mc.opts.ParameterNames {
		p, ok := byName[name]
		if !ok {
			return errors.WithStack(&uqerrors.ErrNotFound{Type: "parameter distribution", Value: name})
		}
		d, err := newDistribution(p, src)
		if err != nil {
			return err
		}
		mc.distributions = append(mc.distributions, d)
	}
	return nil
}

func newDistribution(p ParameterConfig, src rand.Source) (distuv.Rander, error) {
	switch p.Distribution {
	case Uniform, "":
		if !(p.Lower < p.Upper) {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    p.Name,
				Value:   []float64{p.Lower, p.Upper},
				Message: "lower bound must be below upper bound",
			})
		}
		return distuv.Uniform{Min: p.Lower, Max: p.Upper, Src: src}, nil
	case Normal:
		if p.Std <= 0 {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    p.Name,
				Value:   p.Std,
				Message: "standard deviation must be positive",
			})
		}
		return distuv.Normal{Mu: p.Mean, Sigma: p.Std, Src: src}, nil
	}
	return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
		Name:    p.Name,
		Value:   p.Distribution,
		Message: "unknown distribution",
	})
}

// PreRun draws all samples up front.
func (mc *MonteCarlo) PreRun(ctx *uqcontext.Context) error {
	mc.samples = make([][]float64, mc.config.NumSamples)
	for i := range mc.samples {
		row := make([]float64, len(mc.distributions))
		for j, d := range mc.distributions {
			row[j] = d.Rand()
		}
		mc.samples[i] = row
	}
	ctx.Log.Infof("drew %d samples of %d parameters", len(mc.samples), len(mc.distributions))
	return nil
}
