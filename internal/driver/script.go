package driver

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pkg/errors"
	"github.com/renstrom/shortuuid"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

type ScriptKind string

const (
	PbsScript   ScriptKind = "pbs"
	SlurmScript ScriptKind = "slurm"
)

//go:embed templates/*.sh.tmpl
var scriptTemplates embed.FS

var submissionTemplates = template.Must(template.New("").Option("missingkey=error").ParseFS(scriptTemplates, "templates/*.sh.tmpl"))

// ClusterOptions are the queue specific settings of a submission script.
type ClusterOptions struct {
	// hh:mm:ss
	Walltime string
	// Script sourced before the run, e.g. to load modules.
	ClusterScript string
	// Keep the queue system's own stdout and stderr files.
	Output bool
	// Extra directives, e.g. "-A myaccount", copied verbatim after #PBS or #SBATCH.
	Options []string
}

type scriptValues struct {
	JobName       string
	NumTasks      int
	Walltime      string
	DestDir       string
	ControlFile   string
	ClusterScript string
	Output        bool
	Options       []string
	RunLine       string
	PostLine      string
}

// GenerateSubmissionScript renders the PBS or Slurm script of a job into its local job directory and,
// for remote backends, copies it to the remote job directory. It returns the path of the script on the
// executing host. The script writes its exit code to the control file when it ends.
func (d *Driver) GenerateSubmissionScript(ctx *uqcontext.Context, j *job.Job, kind ScriptKind, options ClusterOptions) (string, error) {
	tmpl := submissionTemplates.Lookup(string(kind) + ".sh.tmpl")
	if tmpl == nil {
		return "", errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "scheduler.scriptKind",
			Value:   kind,
			Message: "expected pbs or slurm",
		})
	}
	walltime := options.Walltime
	if walltime == "" {
		walltime = "01:00:00"
	}
	paths := d.Paths(j)
	values := scriptValues{
		JobName:       fmt.Sprintf("%s_queens_%d", d.experimentName, j.Id),
		NumTasks:      d.NumProcs(),
		Walltime:      walltime,
		DestDir:       remote.Quote(paths.OutputDir),
		ControlFile:   remote.Quote(paths.ControlFile),
		ClusterScript: options.ClusterScript,
		Output:        options.Output,
		Options:       options.Options,
		RunLine:       d.AssembleRunCommand(j).String(),
	}
	if post := d.AssemblePostCommand(j); post != nil {
		values.PostLine = post.String()
	}

	buf := &bytes.Buffer{}
	if err := tmpl.Execute(buf, values); err != nil {
		return "", errors.WithStack(err)
	}

	name := fmt.Sprintf("%s_%s_%s.sh", paths.Prefix, kind, strings.ToLower(shortuuid.New()))
	localScript := filepath.Join(paths.LocalJobDir, name)
	if err := os.MkdirAll(paths.LocalJobDir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	if err := os.WriteFile(localScript, buf.Bytes(), 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	if !d.isRemote() {
		return localScript, nil
	}
	remoteScript := path.Join(paths.JobDir, name)
	if err := d.transport.CopyTo(ctx, localScript, remoteScript); err != nil {
		return "", err
	}
	return remoteScript, nil
}
