package scheduler

import (
	"fmt"
	"path"
	"path/filepath"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
	"github.com/uqdispatch/uqdispatch/internal/startup"
)

// launcher is the backend specific part of a Scheduler.
type launcher interface {
	// launch starts a pending job. Launchers that run jobs in the foreground leave it in a terminal state.
	launch(ctx *uqcontext.Context, j *job.Job) error
	// poll moves a pending job to a terminal state once it has finished. Transient failures to find out
	// are logged and leave the job pending.
	poll(ctx *uqcontext.Context, j *job.Job)
	alive(ctx *uqcontext.Context, j *job.Job) bool
}

// SubmissionObserver is told about every submission attempt.
type SubmissionObserver interface {
	ObserveSubmission(backend string, success bool)
}

type noopObserver struct{}

func (noopObserver) ObserveSubmission(string, bool) {}

type Options struct {
	ExperimentName string
	// Local experiment directory.
	ExperimentDir string
	Retry         RetryConfig
	Clock         util.Clock
	// Runs local processes, including ssh and scp. Defaults to os/exec.
	Executor remote.Executor
	// Used by the kube backend. Loaded from Config.Kube.Kubeconfig if nil.
	KubeClient kubernetes.Interface
	Observer   SubmissionObserver
}

// Scheduler owns the lifecycle of jobs from submission to a terminal state on one backend.
type Scheduler struct {
	backend   Backend
	driver    *driver.Driver
	transport remote.Transport
	launcher  launcher
	retry     RetryConfig
	clock     util.Clock
	observer  SubmissionObserver
}

type constructor func(ctx *uqcontext.Context, config Config, d *driver.Driver, opts Options) (launcher, error)

var constructors = map[Backend]constructor{
	LocalBackend:       newDirectLauncher,
	RemoteBackend:      newDirectLauncher,
	LocalNohupBackend:  newDetachedLauncher,
	RemoteNohupBackend: newDetachedLauncher,
	LocalPbsBackend:    newQueueLauncher,
	LocalSlurmBackend:  newQueueLauncher,
	RemotePbsBackend:   newQueueLauncher,
	RemoteSlurmBackend: newQueueLauncher,
	KubeBackend:        newKubeLauncher,
}

// New builds the scheduler for config.Type together with its transport and driver.
func New(ctx *uqcontext.Context, config Config, driverConfig driver.Config, opts Options) (*Scheduler, error) {
	newLauncher, ok := constructors[config.Type]
	if !ok {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "scheduler.type",
			Value:   config.Type,
			Message: "unknown scheduler type",
		})
	}
	if opts.Clock == nil {
		opts.Clock = &util.DefaultClock{}
	}
	if opts.Executor == nil {
		opts.Executor = &remote.ProcessExecutor{}
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig
	}

	var transport remote.Transport = remote.NewLocalTransport(opts.Executor)
	executionDir := opts.ExperimentDir
	if config.Type.IsRemote() {
		if config.Remote.Host == "" {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    "scheduler.remote.host",
				Value:   config.Remote.Host,
				Message: fmt.Sprintf("a host is required for scheduler type %s", config.Type),
			})
		}
		transport = remote.NewSSHTransport(config.Remote.Host, config.Remote.SshOptions, opts.Executor)
		if config.Remote.ExperimentDir != "" {
			executionDir = config.Remote.ExperimentDir
		}
	}

	d, err := driver.New(driverConfig, transport, opts.ExperimentName, executionDir, opts.ExperimentDir, opts.Clock)
	if err != nil {
		return nil, err
	}
	if config.Type == KubeBackend && opts.KubeClient == nil {
		opts.KubeClient, err = startup.LoadKubernetesClient(config.Kube.Kubeconfig)
		if err != nil {
			return nil, err
		}
	}
	l, err := newLauncher(ctx, config, d, opts)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		backend:   config.Type,
		driver:    d,
		transport: transport,
		launcher:  l,
		retry:     opts.Retry,
		clock:     opts.Clock,
		observer:  opts.Observer,
	}, nil
}

func (s *Scheduler) Backend() Backend {
	return s.backend
}

func (s *Scheduler) Driver() *driver.Driver {
	return s.driver
}

// PreRun creates the experiment directory on the executing host and copies the driver's supporting
// files into it.
func (s *Scheduler) PreRun(ctx *uqcontext.Context) error {
	experimentDir := s.driver.ExperimentDir()
	if err := s.transport.MakeDir(ctx, experimentDir); err != nil {
		return err
	}
	files, err := s.driver.FilesToCopy()
	if err != nil {
		return err
	}
	for _, file := range files {
		dst := path.Join(experimentDir, filepath.Base(file))
		ctx.Log.Infof("copying %s to %s", file, dst)
		if err := s.transport.CopyTo(ctx, file, dst); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) PostRun(ctx *uqcontext.Context) error {
	if c, ok := s.launcher.(interface{ close() }); ok {
		c.close()
	}
	ctx.Log.Infof("%s scheduler finished", s.backend)
	return nil
}

// Submit prepares and launches a job in the new state and returns the updated job; j itself is not
// modified. A failure to prepare the job's files is returned as an error and the job must not be
// considered submitted. Launch failures are retried; once every attempt has failed the returned job
// is broken. Direct backends return the job in its final state.
func (s *Scheduler) Submit(ctx *uqcontext.Context, j *job.Job) (*job.Job, error) {
	submitted := j.DeepCopy()
	log := ctx.Log.WithFields(logrus.Fields{"batch": j.Batch, "jobId": j.Id})
	jobCtx := uqcontext.New(ctx, log)

	if submitted.Status != job.New {
		return nil, errors.WithStack(&uqerrors.ErrInvalidTransition{JobId: j.Id, From: string(j.Status), To: string(job.Pending)})
	}
	if _, err := s.driver.SetupDirsAndFiles(jobCtx, submitted); err != nil {
		return nil, err
	}
	if err := submitted.Transition(job.Pending, s.clock.Now()); err != nil {
		return nil, err
	}

	err := retry.Do(
		func() error {
			submitted.Attempts++
			err := s.launcher.launch(jobCtx, submitted)
			s.observer.ObserveSubmission(string(s.backend), err == nil)
			if err != nil {
				log.WithError(err).Warnf("submission attempt %d of %d failed", submitted.Attempts, s.retry.MaxAttempts)
			}
			return err
		},
		retry.Attempts(s.retry.MaxAttempts),
		retry.Delay(s.retry.Delay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(uqerrors.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
	)
	if err == nil {
		return submitted, nil
	}
	if uqerrors.IsSetup(err) {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, errors.WithStack(ctx.Err())
	}
	submissionErr := &uqerrors.ErrSubmission{JobId: j.Id, Attempts: submitted.Attempts, Err: err}
	log.WithError(submissionErr).Error("job is broken")
	if err := submitted.Transition(job.Broken, s.clock.Now()); err != nil {
		return nil, err
	}
	submitted.Error = submissionErr.Error()
	return submitted, nil
}

// PollCompletion checks a job once and reports whether it has finished and whether it failed.
// j is updated in place when it reaches a terminal state. Jobs already in a terminal state are
// reported as they are.
func (s *Scheduler) PollCompletion(ctx *uqcontext.Context, j *job.Job) (completed bool, failed bool) {
	if !j.InTerminalState() {
		log := ctx.Log.WithFields(logrus.Fields{"batch": j.Batch, "jobId": j.Id})
		s.launcher.poll(uqcontext.New(ctx, log), j)
	}
	switch j.Status {
	case job.Complete:
		return true, false
	case job.Failed, job.Broken:
		return true, true
	default:
		return false, false
	}
}

// Alive reports whether the backend still knows the job as queued or running. Queued jobs that are
// held or suspended are cancelled and reported dead.
func (s *Scheduler) Alive(ctx *uqcontext.Context, j *job.Job) bool {
	if j.InTerminalState() || j.ProcessId == "" {
		return false
	}
	return s.launcher.alive(ctx, j)
}
