package driver

import (
	"fmt"
	"path"
	"path/filepath"
	"strconv"

	"github.com/uqdispatch/uqdispatch/internal/job"
)

// JobPaths are the files of one job. The unqualified paths live on the host that executes the job;
// the Local* paths are their counterparts on this machine, which differ only for remote backends.
type JobPaths struct {
	// <experimentName>_<id>
	Prefix      string
	JobDir      string
	OutputDir   string
	InputFile   string
	OutputFile  string
	ControlFile string
	LogFile     string
	ErrFile     string
	ResultFile  string

	LocalJobDir     string
	LocalOutputDir  string
	LocalLogFile    string
	LocalErrFile    string
	LocalResultFile string
}

// Paths lays out <experimentDir>/<batch>/<id>/output. Ids restart in every batch, so the batch is part
// of the path.
func (d *Driver) Paths(j *job.Job) JobPaths {
	prefix := fmt.Sprintf("%s_%d", d.experimentName, j.Id)
	resultName := d.config.ResultFile
	if resultName == "" {
		resultName = prefix + "." + string(d.config.resultFormat())
	}

	// Remote paths are always slash separated.
	jobDir := path.Join(d.experimentDir, strconv.Itoa(j.Batch), strconv.Itoa(j.Id))
	outputDir := path.Join(jobDir, "output")
	localJobDir := filepath.Join(d.localDir, strconv.Itoa(j.Batch), strconv.Itoa(j.Id))
	localOutputDir := filepath.Join(localJobDir, "output")

	inputFile := ""
	if d.inputTemplate != nil {
		inputFile = path.Join(jobDir, prefix+d.config.inputExtension())
	}
	return JobPaths{
		Prefix:      prefix,
		JobDir:      jobDir,
		OutputDir:   outputDir,
		InputFile:   inputFile,
		OutputFile:  path.Join(outputDir, prefix),
		ControlFile: path.Join(outputDir, prefix+".control"),
		LogFile:     path.Join(outputDir, prefix+".out"),
		ErrFile:     path.Join(outputDir, prefix+".err"),
		ResultFile:  path.Join(outputDir, resultName),

		LocalJobDir:     localJobDir,
		LocalOutputDir:  localOutputDir,
		LocalLogFile:    filepath.Join(localOutputDir, prefix+".out"),
		LocalErrFile:    filepath.Join(localOutputDir, prefix+".err"),
		LocalResultFile: filepath.Join(localOutputDir, resultName),
	}
}
