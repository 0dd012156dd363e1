package iterator

import (
	"encoding/csv"
	"os"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

// Data evaluates the model at the samples listed in a csv file. The header row names the parameters;
// columns are picked in model order, so the file may order them freely and carry extra columns.
type Data struct {
	sampling
	path string
}

func NewData(config Config, model Model, opts Options) (*Data, error) {
	if config.DataFile == "" {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "iterator.dataFile",
			Value:   config.DataFile,
			Message: "a data file is required",
		})
	}
	path, err := homedir.Expand(config.DataFile)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &Data{sampling: sampling{kind: DataType, config: config, model: model, opts: opts}, path: path}, nil
}

func (d *Data) Initialize(_ *uqcontext.Context) error {
	if _, err := os.Stat(d.path); err != nil {
		return errors.Wrapf(err, "data file %s", d.path)
	}
	return nil
}

// PreRun reads the samples.
func (d *Data) PreRun(ctx *uqcontext.Context) error {
	f, err := os.Open(d.path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return errors.Wrapf(err, "could not read %s", d.path)
	}
	if len(records) == 0 {
		return errors.Errorf("%s has no header row", d.path)
	}

	header := records[0]
	if len(d.opts.ParameterNames) == 0 {
		for _, name := range header {
			d.opts.ParameterNames = append(d.opts.ParameterNames, strings.TrimSpace(name))
		}
	}
	columns := make([]int, len(d.opts.ParameterNames))
	for i, name := range d.opts.ParameterNames {
		columns[i] = -1
		for c, h := range header {
			if strings.TrimSpace(h) == name {
				columns[i] = c
				break
			}
		}
		if columns[i] < 0 {
			return errors.WithStack(&uqerrors.ErrNotFound{Type: "column", Value: name, Message: d.path})
		}
	}

	d.samples = make([][]float64, 0, len(records)-1)
	for line, record := range records[1:] {
		row := make([]float64, len(columns))
		for i, c := range columns {
			if c >= len(record) {
				return errors.Errorf("%s line %d: missing column %s", d.path, line+2, d.opts.ParameterNames[i])
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(record[c]), 64)
			if err != nil {
				return errors.Wrapf(err, "%s line %d", d.path, line+2)
			}
			row[i] = v
		}
		d.samples = append(d.samples, row)
	}
	ctx.Log.Infof("read %d samples from %s", len(d.samples), d.path)
	return nil
}
