package driver

import (
	"bytes"
	"encoding/csv"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

// CollectResult reads the result file of a job, fetching it from the remote host first if needed.
//
// csv results hold the result values on the first numeric row and, optionally, the gradient on the
// second; a leading header row is skipped. yaml and json results are documents of the form
// {result: <number or list>, gradient: <list>}.
func (d *Driver) CollectResult(ctx *uqcontext.Context, j *job.Job) ([]float64, []float64, error) {
	paths := d.Paths(j)
	if d.isRemote() {
		if err := d.transport.CopyFrom(ctx, paths.ResultFile, paths.LocalResultFile); err != nil {
			return nil, nil, err
		}
	}
	data, err := os.ReadFile(paths.LocalResultFile)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "result of job %d could not be read", j.Id)
	}
	var result, gradient []float64
	switch d.config.resultFormat() {
	case CsvFormat:
		result, gradient, err = parseCsvResult(data)
	default:
		result, gradient, err = parseDocumentResult(data)
	}
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "result file %s of job %d", paths.LocalResultFile, j.Id)
	}
	if len(result) == 0 {
		return nil, nil, errors.Errorf("result file %s of job %d holds no result", paths.LocalResultFile, j.Id)
	}
	if err := checkFinite("result", result); err != nil {
		return nil, nil, errors.WithMessagef(err, "result file %s of job %d", paths.LocalResultFile, j.Id)
	}
	if err := checkFinite("gradient", gradient); err != nil {
		return nil, nil, errors.WithMessagef(err, "result file %s of job %d", paths.LocalResultFile, j.Id)
	}
	return result, gradient, nil
}

// checkFinite rejects NaN and infinite values, which diverged simulations commonly write.
func checkFinite(what string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("%s value %d is %v", what, i, v)
		}
	}
	return nil
}

func parseCsvResult(data []byte) ([]float64, []float64, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	rows := make([][]float64, 0, 2)
	for i, record := range records {
		values, err := parseRow(record)
		if err != nil {
			if i == 0 && len(rows) == 0 {
				// header
				continue
			}
			return nil, nil, err
		}
		rows = append(rows, values)
		if len(rows) == 2 {
			break
		}
	}
	switch len(rows) {
	case 0:
		return nil, nil, nil
	case 1:
		return rows[0], nil, nil
	default:
		return rows[0], rows[1], nil
	}
}

func parseRow(record []string) ([]float64, error) {
	values := make([]float64, 0, len(record))
	for _, field := range record {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		values = append(values, v)
	}
	return values, nil
}

type resultDocument struct {
	Result   interface{} `yaml:"result"`
	Gradient []float64   `yaml:"gradient"`
}

// yaml.v2 also reads json documents.
func parseDocumentResult(data []byte) ([]float64, []float64, error) {
	doc := resultDocument{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, errors.WithStack(err)
	}
	var result []float64
	switch v := doc.Result.(type) {
	case nil:
	case int:
		result = []float64{float64(v)}
	case float64:
		result = []float64{v}
	case []interface{}:
		for _, item := range v {
			f, err := toFloat(item)
			if err != nil {
				return nil, nil, err
			}
			result = append(result, f)
		}
	default:
		return nil, nil, errors.Errorf("unexpected result %v", v)
	}
	return result, doc.Gradient, nil
}

func toFloat(v interface{}) (float64, error) {
	switch f := v.(type) {
	case int:
		return float64(f), nil
	case float64:
		return f, nil
	default:
		return 0, errors.Errorf("unexpected result value %v", v)
	}
}
