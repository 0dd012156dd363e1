package iterator

import (
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v2"
)

type Results struct {
	ExperimentName string      `yaml:"experimentName"`
	Iterator       Type        `yaml:"iterator"`
	Parameters     []string    `yaml:"parameters,flow"`
	NumSamples     int         `yaml:"numSamples"`
	NumFailed      int         `yaml:"numFailed"`
	Mean           []float64   `yaml:"mean,flow"`
	Variance       []float64   `yaml:"variance,flow"`
	Samples        [][]float64 `yaml:"samples"`
	Outputs        [][]float64 `yaml:"outputs"`
	Gradients      [][]float64 `yaml:"gradients,omitempty"`
}

// WriteResults writes <outputDir>/<experimentName>.yaml and returns its path.
func WriteResults(outputDir string, results *Results) (string, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	data, err := yaml.Marshal(results)
	if err != nil {
		return "", errors.WithStack(err)
	}
	path := filepath.Join(outputDir, results.ExperimentName+".yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.WithStack(err)
	}
	return path, nil
}

// ReadResults reads a results file written by WriteResults.
func ReadResults(path string) (*Results, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	results := &Results{}
	if err := yaml.Unmarshal(data, results); err != nil {
		return nil, errors.Wrapf(err, "could not parse %s", path)
	}
	return results, nil
}

// summarize returns the sample mean and variance of every output column over the rows that did not
// fail and hold no NaN.
func summarize(outputs [][]float64, failed []bool) (mean []float64, variance []float64, numFailed int) {
	width := 0
	valid := make([]float64, 0, len(outputs))
	rows := 0
	for i, row := range outputs {
		if (i < len(failed) && failed[i]) || hasNaN(row) {
			numFailed++
			continue
		}
		if width == 0 {
			width = len(row)
		}
		if len(row) != width {
			numFailed++
			continue
		}
		valid = append(valid, row...)
		rows++
	}
	if rows == 0 || width == 0 {
		return nil, nil, numFailed
	}
	m := mat.NewDense(rows, width, valid)
	mean = make([]float64, width)
	variance = make([]float64, width)
	for j := 0; j < width; j++ {
		col := mat.Col(nil, j, m)
		if rows == 1 {
			mean[j], variance[j] = col[0], 0
			continue
		}
		mean[j], variance[j] = stat.MeanVariance(col, nil)
	}
	return mean, variance, numFailed
}

func hasNaN(row []float64) bool {
	for _, v := range row {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}
