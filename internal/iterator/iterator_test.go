package iterator

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/jobinterface"
)

// sumModel returns the sum of every sample. Samples whose first value exceeds failAbove fail.
type sumModel struct {
	calls     [][][]float64
	failAbove float64
}

func (m *sumModel) Evaluate(_ *uqcontext.Context, samples [][]float64) (*jobinterface.Output, error) {
	m.calls = append(m.calls, samples)
	output := &jobinterface.Output{Result: make([][]float64, len(samples)), Failed: make([]bool, len(samples))}
	for i, sample := range samples {
		if m.failAbove != 0 && sample[0] > m.failAbove {
			output.Result[i] = []float64{math.NaN()}
			output.Failed[i] = true
			continue
		}
		sum := 0.0
		for _, v := range sample {
			sum += v
		}
		output.Result[i] = []float64{sum}
	}
	return output, nil
}

type recordingIterator struct {
	phases  []string
	failing string
}

func (r *recordingIterator) Name() string { return "recording" }

func (r *recordingIterator) record(name string) error {
	r.phases = append(r.phases, name)
	if name == r.failing {
		return errors.New("boom")
	}
	return nil
}

func (r *recordingIterator) Initialize(*uqcontext.Context) error { return r.record("initialize") }
func (r *recordingIterator) PreRun(*uqcontext.Context) error     { return r.record("pre") }
func (r *recordingIterator) CoreRun(*uqcontext.Context) error    { return r.record("core") }
func (r *recordingIterator) PostRun(*uqcontext.Context) error    { return r.record("post") }
func (r *recordingIterator) Finalize(*uqcontext.Context) error   { return r.record("finalize") }

func TestRun_PhaseOrder(t *testing.T) {
	it := &recordingIterator{}
	require.NoError(t, Run(uqcontext.Background(), it))
	assert.Equal(t, []string{"initialize", "pre", "core", "post", "finalize"}, it.phases)
}

func TestRun_StopsAtFirstError(t *testing.T) {
	it := &recordingIterator{failing: "core"}
	err := Run(uqcontext.Background(), it)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "core run of recording failed")
	assert.Equal(t, []string{"initialize", "pre", "core"}, it.phases)
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New(Config{Type: "sobol"}, &sumModel{}, Options{})
	var e *uqerrors.ErrInvalidArgument
	assert.ErrorAs(t, err, &e)
}

func TestParseDistribution(t *testing.T) {
	d, err := ParseDistribution(" Normal")
	require.NoError(t, err)
	assert.Equal(t, Normal, d)
	_, err = ParseDistribution("lognormal")
	assert.Error(t, err)
}

func monteCarloConfig() Config {
	return Config{
		Type:       MonteCarloType,
		NumSamples: 10,
		BatchSize:  4,
		Seed:       42,
		Parameters: []ParameterConfig{
			{Name: "y", Distribution: Normal, Mean: 5, Std: 0.1},
			{Name: "x", Distribution: Uniform, Lower: -1, Upper: 1},
		},
	}
}

func TestMonteCarlo_Run(t *testing.T) {
	dir := t.TempDir()
	model := &sumModel{}
	it, err := New(monteCarloConfig(), model, Options{
		ExperimentName: "beam",
		OutputDir:      dir,
		ParameterNames: []string{"x", "y"},
	})
	require.NoError(t, err)
	require.NoError(t, Run(uqcontext.Background(), it))

	require.Len(t, model.calls, 3)
	assert.Len(t, model.calls[0], 4)
	assert.Len(t, model.calls[2], 2)

	mc := it.(*MonteCarlo)
	require.Len(t, mc.samples, 10)
	for _, sample := range mc.samples {
		assert.GreaterOrEqual(t, sample[0], -1.0)
		assert.Less(t, sample[0], 1.0)
		assert.InDelta(t, 5, sample[1], 1)
	}

	results, err := ReadResults(filepath.Join(dir, "beam.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 10, results.NumSamples)
	assert.Equal(t, 0, results.NumFailed)
	assert.Equal(t, []string{"x", "y"}, results.Parameters)
	require.Len(t, results.Mean, 1)
	assert.InDelta(t, 5, results.Mean[0], 1)
	assert.Equal(t, mc.Results().Mean, results.Mean)
}

func TestMonteCarlo_SeedIsReproducible(t *testing.T) {
	draw := func() [][]float64 {
		it, err := NewMonteCarlo(monteCarloConfig(), &sumModel{}, Options{})
		require.NoError(t, err)
		require.NoError(t, it.Initialize(uqcontext.Background()))
		require.NoError(t, it.PreRun(uqcontext.Background()))
		return it.samples
	}
	assert.Equal(t, draw(), draw())
}

func TestMonteCarlo_InvalidParameters(t *testing.T) {
	tests := map[string]ParameterConfig{
		"empty uniform":        {Name: "x", Distribution: Uniform, Lower: 1, Upper: 1},
		"degenerate normal":    {Name: "x", Distribution: Normal, Mean: 1},
		"unknown distribution": {Name: "x", Distribution: "gamma"},
	}
	for name, p := range tests {
		t.Run(name, func(t *testing.T) {
			it, err := NewMonteCarlo(Config{NumSamples: 1, Parameters: []ParameterConfig{p}}, &sumModel{}, Options{})
			require.NoError(t, err)
			var e *uqerrors.ErrInvalidArgument
			assert.ErrorAs(t, it.Initialize(uqcontext.Background()), &e)
		})
	}

	it, err := NewMonteCarlo(Config{NumSamples: 1}, &sumModel{}, Options{ParameterNames: []string{"z"}})
	require.NoError(t, err)
	var notFound *uqerrors.ErrNotFound
	assert.ErrorAs(t, it.Initialize(uqcontext.Background()), &notFound)

	_, err = NewMonteCarlo(Config{}, &sumModel{}, Options{})
	assert.Error(t, err)
}

func TestMonteCarlo_FailedSamplesAreExcluded(t *testing.T) {
	config := monteCarloConfig()
	config.Parameters = []ParameterConfig{{Name: "x", Lower: 0, Upper: 1}}
	model := &sumModel{failAbove: 0.5}
	it, err := NewMonteCarlo(config, model, Options{})
	require.NoError(t, err)
	require.NoError(t, Run(uqcontext.Background(), it))

	failed := 0
	for _, sample := range it.samples {
		if sample[0] > 0.5 {
			failed++
		}
	}
	assert.Equal(t, failed, it.Results().NumFailed)
	if failed < len(it.samples) {
		assert.LessOrEqual(t, it.Results().Mean[0], 0.5)
	}
}

func TestSummarize(t *testing.T) {
	outputs := [][]float64{{1, 10}, {3, 10}, {-1, -1}, {5, 10}, {math.NaN(), 1}}
	mean, variance, numFailed := summarize(outputs, []bool{false, false, true, false, false})
	assert.Equal(t, 2, numFailed)
	assert.InDeltaSlice(t, []float64{3, 10}, mean, 1e-12)
	assert.InDeltaSlice(t, []float64{4, 0}, variance, 1e-12)

	mean, variance, numFailed = summarize([][]float64{{math.NaN()}}, nil)
	assert.Nil(t, mean)
	assert.Nil(t, variance)
	assert.Equal(t, 1, numFailed)

	mean, variance, _ = summarize([][]float64{{7}}, nil)
	assert.Equal(t, []float64{7}, mean)
	assert.Equal(t, []float64{0}, variance)
}

func TestData_Run(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "points.csv")
	content := "# measured points\nlabel, y, x\na, 1, 10\nb, 2, 20\nc, 3, 30\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	model := &sumModel{}
	it, err := New(Config{Type: DataType, DataFile: path, BatchSize: 2}, model, Options{
		ExperimentName: "points",
		OutputDir:      dir,
		ParameterNames: []string{"x", "y"},
	})
	require.NoError(t, err)
	require.NoError(t, Run(uqcontext.Background(), it))

	assert.Equal(t, [][][]float64{{{10, 1}, {20, 2}}, {{30, 3}}}, model.calls)
	results, err := ReadResults(filepath.Join(dir, "points.yaml"))
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{11}, {22}, {33}}, results.Outputs)
	assert.InDeltaSlice(t, []float64{22}, results.Mean, 1e-12)
}

func TestData_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := NewData(Config{}, &sumModel{}, Options{})
	assert.Error(t, err)

	missing, err := NewData(Config{DataFile: filepath.Join(dir, "nope.csv")}, &sumModel{}, Options{})
	require.NoError(t, err)
	assert.Error(t, missing.Initialize(uqcontext.Background()))

	path := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(path, []byte("x\n1\n"), 0o644))
	noColumn, err := NewData(Config{DataFile: path}, &sumModel{}, Options{ParameterNames: []string{"x", "y"}})
	require.NoError(t, err)
	var e *uqerrors.ErrNotFound
	assert.ErrorAs(t, noColumn.PreRun(uqcontext.Background()), &e)

	require.NoError(t, os.WriteFile(path, []byte("x\nabc\n"), 0o644))
	garbage, err := NewData(Config{DataFile: path}, &sumModel{}, Options{})
	require.NoError(t, err)
	assert.Error(t, garbage.PreRun(uqcontext.Background()))
}
