package driver

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/mattn/go-zglob"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

// Driver turns a job into files and commands on the host that runs it, and judges the outcome.
// A Driver holds no per-job state and may be used from several goroutines.
type Driver struct {
	config         Config
	transport      remote.Transport
	experimentName string
	// Experiment directory on the executing host.
	experimentDir string
	// Experiment directory on this machine. Equal to experimentDir for local backends.
	localDir      string
	inputTemplate *template.Template
	clock         util.Clock
}

func New(config Config, transport remote.Transport, experimentName string, experimentDir string, localDir string, clock util.Clock) (*Driver, error) {
	if config.Executable == "" {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "driver.executable",
			Value:   config.Executable,
			Message: "an executable is required",
		})
	}
	if localDir == "" {
		localDir = experimentDir
	}
	d := &Driver{
		config:         config,
		transport:      transport,
		experimentName: experimentName,
		experimentDir:  experimentDir,
		localDir:       localDir,
		clock:          clock,
	}
	if config.InputTemplate != "" {
		tmpl, err := template.New("input").Option("missingkey=error").Parse(config.InputTemplate)
		if err != nil {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    "driver.inputTemplate",
				Value:   config.InputTemplate,
				Message: err.Error(),
			})
		}
		d.inputTemplate = tmpl
	}
	return d, nil
}

func (d *Driver) Name() string {
	return d.config.Name
}

func (d *Driver) Transport() remote.Transport {
	return d.transport
}

func (d *Driver) ExperimentDir() string {
	return d.experimentDir
}

func (d *Driver) NumProcs() int {
	return util.Max(d.config.NumProcs, 1)
}

func (d *Driver) isRemote() bool {
	return d.transport.Host() != ""
}

// SetupDirsAndFiles creates the job and output directories, writes the input file and removes any
// control file left behind by an earlier attempt. It may be called again for the same job.
// For remote backends the directories are created on the remote host and mirrored locally; any
// failure there is returned as *uqerrors.ErrSetup and the job must not be submitted.
func (d *Driver) SetupDirsAndFiles(ctx *uqcontext.Context, j *job.Job) (JobPaths, error) {
	paths := d.Paths(j)
	setupErr := func(op string, err error) error {
		return errors.WithStack(&uqerrors.ErrSetup{JobId: j.Id, Op: op, Err: err})
	}

	if err := os.MkdirAll(paths.LocalOutputDir, 0o755); err != nil {
		return paths, setupErr("mkdir "+paths.LocalOutputDir, err)
	}
	if d.isRemote() {
		if err := d.transport.MakeDir(ctx, paths.OutputDir); err != nil {
			return paths, setupErr("mkdir "+paths.OutputDir, err)
		}
	}
	if err := d.transport.RemoveFile(ctx, paths.ControlFile); err != nil {
		return paths, setupErr("remove "+paths.ControlFile, err)
	}

	if d.inputTemplate != nil {
		input, err := d.RenderInput(j)
		if err != nil {
			return paths, setupErr("render input", err)
		}
		localInput := filepath.Join(paths.LocalJobDir, filepath.Base(paths.InputFile))
		if err := os.WriteFile(localInput, input, 0o644); err != nil {
			return paths, setupErr("write "+localInput, err)
		}
		if d.isRemote() {
			if err := d.transport.CopyTo(ctx, localInput, paths.InputFile); err != nil {
				return paths, setupErr("copy "+localInput, err)
			}
		}
	}
	return paths, nil
}

// RenderInput fills the input template with the job parameters.
func (d *Driver) RenderInput(j *job.Job) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := d.inputTemplate.Execute(buf, j.Params); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// AssembleRunCommand builds `[mpi -np N] executable [input] output` to be run in the job directory.
// It only depends on the job and the configuration.
func (d *Driver) AssembleRunCommand(j *job.Job) *remote.Command {
	paths := d.Paths(j)
	return d.withLauncher(d.config.NumProcs, d.config.Executable).
		Arg(paths.InputFile, paths.OutputFile).
		InDir(paths.JobDir)
}

// AssemblePostCommand builds the post-processing command, or returns nil if none is configured.
func (d *Driver) AssemblePostCommand(j *job.Job) *remote.Command {
	if d.config.PostProcessor == "" {
		return nil
	}
	paths := d.Paths(j)
	return d.withLauncher(d.config.NumProcsPost, d.config.PostProcessor).
		Arg(d.config.PostOptions...).
		Arg(paths.OutputFile).
		InDir(paths.JobDir)
}

func (d *Driver) withLauncher(numProcs int, executable string) *remote.Command {
	if len(d.config.MpiCommand) == 0 {
		return remote.NewCommand(executable)
	}
	return remote.NewCommand(d.config.MpiCommand[0], d.config.MpiCommand[1:]...).
		Arg(strconv.Itoa(util.Max(numProcs, 1)), executable)
}

// jobCommand is the run command followed, on success, by the post-processing command, as one line
// that can be detached or written into a script.
func (d *Driver) jobCommand(j *job.Job) *remote.Command {
	run := d.AssembleRunCommand(j)
	post := d.AssemblePostCommand(j)
	if post == nil {
		return run
	}
	return remote.NewCommand("sh", "-c", run.String()+" && "+post.String()).InDir(run.Dir)
}

// RunJob runs the job to completion in the foreground. The job must be pending. On return it is
// complete with its result set, or failed with its result cleared. An error is returned only if
// the command could not be run at all.
func (d *Driver) RunJob(ctx *uqcontext.Context, j *job.Job) error {
	paths := d.Paths(j)
	log := ctx.Log.WithFields(logrus.Fields{"batch": j.Batch, "jobId": j.Id})

	commands := []*remote.Command{d.AssembleRunCommand(j)}
	if post := d.AssemblePostCommand(j); post != nil {
		commands = append(commands, post)
	}
	for i, cmd := range commands {
		if i == 0 {
			cmd.StdoutFile = paths.LocalLogFile
			cmd.StderrFile = paths.LocalErrFile
			cmd.TerminateOn = d.config.ErrorPattern
		}
		log.Debugf("running %s", cmd.ShellLine())
		result, err := d.transport.Run(ctx, cmd)
		if err != nil {
			return err
		}
		if err := remote.CheckResult(d.transport.Host(), cmd, result); remote.IsConnectionFailure(err) {
			return err
		}
		if result.Terminated {
			return j.MarkFailed(fmt.Sprintf("output matched error pattern %q", d.config.ErrorPattern.String()), d.clock.Now())
		}
		if result.ExitCode != 0 {
			log.Warnf("%s exited with code %d", cmd.Name, result.ExitCode)
			return j.MarkFailed(fmt.Sprintf("%s exited with code %d", cmd.Name, result.ExitCode), d.clock.Now())
		}
	}
	return d.Finish(ctx, j)
}

// StartDetached launches the job in the background and returns its process id. Completion is
// signalled by the control file, which receives the exit code.
func (d *Driver) StartDetached(ctx *uqcontext.Context, j *job.Job) (string, error) {
	paths := d.Paths(j)
	return remote.Start(ctx, d.transport, d.jobCommand(j), remote.DetachedOutput{
		Stdout:   paths.LogFile,
		Stderr:   paths.ErrFile,
		Sentinel: paths.ControlFile,
	})
}

// Finish collects the result of a job whose command succeeded and moves it to complete, or to failed
// if no usable result was produced.
func (d *Driver) Finish(ctx *uqcontext.Context, j *job.Job) error {
	result, gradient, err := d.CollectResult(ctx, j)
	if err != nil {
		ctx.Log.WithFields(logrus.Fields{"batch": j.Batch, "jobId": j.Id}).WithError(err).Warn("no usable result")
		return j.MarkFailed(err.Error(), d.clock.Now())
	}
	j.SetResult(result, gradient)
	return j.Transition(job.Complete, d.clock.Now())
}

// FilesToCopy expands the configured glob patterns. A pattern that matches nothing is an error.
func (d *Driver) FilesToCopy() ([]string, error) {
	files := []string{}
	for _, pattern := range d.config.FilesToCopy {
		expanded, err := homedir.Expand(pattern)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		matches, err := zglob.Glob(expanded)
		if err != nil {
			return nil, errors.WithMessagef(err, "no file matches %s", pattern)
		}
		files = append(files, matches...)
	}
	return files, nil
}

// SentinelExitCode reads the exit code written to the control file. An empty control file counts
// as success and unreadable content as a failure.
func (d *Driver) SentinelExitCode(ctx *uqcontext.Context, j *job.Job) (int, error) {
	data, err := d.transport.ReadFile(ctx, d.Paths(j).ControlFile)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	code, err := strconv.Atoi(s)
	if err != nil {
		ctx.Log.Warnf("unexpected content %q in control file of job %d", s, j.Id)
		return -1, nil
	}
	return code, nil
}

// ContainerCommand is the job command, followed by writing its exit code to the control file, as an
// argv for runtimes that take one such as a kubernetes container.
func (d *Driver) ContainerCommand(j *job.Job) []string {
	paths := d.Paths(j)
	return []string{"sh", "-c", d.jobCommand(j).ShellLine() + "; echo $? > " + remote.Quote(paths.ControlFile)}
}
