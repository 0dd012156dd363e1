package experiment

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"k8s.io/client-go/kubernetes"

	"github.com/uqdispatch/uqdispatch/internal/common/health"
	"github.com/uqdispatch/uqdispatch/internal/common/task"
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/experiment/configuration"
	"github.com/uqdispatch/uqdispatch/internal/iterator"
	"github.com/uqdispatch/uqdispatch/internal/jobdb"
	"github.com/uqdispatch/uqdispatch/internal/jobinterface"
	"github.com/uqdispatch/uqdispatch/internal/jobstore"
	"github.com/uqdispatch/uqdispatch/internal/metrics"
	"github.com/uqdispatch/uqdispatch/internal/remote"
	"github.com/uqdispatch/uqdispatch/internal/resource"
	"github.com/uqdispatch/uqdispatch/internal/scheduler"
)

const taskShutdownTimeout = 5 * time.Second

// Options replace the parts of an experiment that talk to the outside world. All are optional.
type Options struct {
	Clock      util.Clock
	Executor   remote.Executor
	KubeClient kubernetes.Interface
	// Metrics are registered here. Defaults to a new registry.
	Registry *prometheus.Registry
}

// Experiment is one configured run: an iterator driving the job interface over a set of resources.
type Experiment struct {
	config       configuration.ExperimentConfiguration
	runId        string
	store        jobstore.Store
	jobDb        *jobdb.JobDb
	schedulers   []*scheduler.Scheduler
	resources    []*resource.Resource
	jobInterface *jobinterface.Interface
	iterator     iterator.Iterator
	registry     *prometheus.Registry
	checker      *health.MultiChecker
}

// StartUp builds every component of the experiment. The returned experiment must be closed.
func StartUp(ctx *uqcontext.Context, config configuration.ExperimentConfiguration, opts Options) (e *Experiment, err error) {
	if opts.Clock == nil {
		opts.Clock = &util.DefaultClock{}
	}
	runId := util.NewULID(opts.Clock.Now())
	ctx = uqcontext.WithLogFields(ctx, logrus.Fields{"experiment": config.ExperimentName, "runId": runId})
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if err := os.MkdirAll(config.ExperimentDir, 0o755); err != nil {
		return nil, errors.WithStack(err)
	}

	store, err := jobstore.NewStore(ctx, config.Store)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			util.CloseResource(ctx, "job store", store)
		}
	}()

	jobDb, err := jobdb.NewJobDb()
	if err != nil {
		return nil, err
	}
	m := metrics.New()
	if err := opts.Registry.Register(m); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := opts.Registry.Register(metrics.NewJobTableCollector(jobDb)); err != nil {
		return nil, errors.WithStack(err)
	}

	schedulers := make([]*scheduler.Scheduler, 0, len(config.Resources))
	resources := make([]*resource.Resource, 0, len(config.Resources))
	for _, rc := range config.Resources {
		s, err := scheduler.New(uqcontext.WithLogField(ctx, "resource", rc.Name), rc.Scheduler, config.Driver, scheduler.Options{
			ExperimentName: config.ExperimentName,
			ExperimentDir:  config.ExperimentDir,
			Retry: scheduler.RetryConfig{
				MaxAttempts: config.Submission.MaxAttempts,
				Delay:       config.Submission.Delay,
			},
			Clock:      opts.Clock,
			Executor:   opts.Executor,
			KubeClient: opts.KubeClient,
			Observer:   m,
		})
		if err != nil {
			return nil, errors.WithMessagef(err, "resource %s", rc.Name)
		}
		schedulers = append(schedulers, s)
		resources = append(resources, resource.New(rc.Name, s, rc.MaxConcurrent))
	}

	jobInterface, err := jobinterface.New(
		jobinterface.Config{
			Name:              config.Interface.Name,
			Parameters:        config.Interface.Parameters,
			Placeholder:       config.Interface.Placeholder,
			Gradient:          config.Interface.Gradient,
			Restart:           config.Interface.Restart,
			PollingInterval:   config.Polling.Interval,
			SubmissionThreads: config.Submission.Threads,
		},
		resources,
		jobDb,
		jobstore.NewJobRepository(store, config.ExperimentName),
		jobinterface.Options{
			ExperimentName: config.ExperimentName,
			ExperimentDir:  config.ExperimentDir,
			DriverName:     config.Driver.Name,
			Clock:          opts.Clock,
			Observer:       m,
		})
	if err != nil {
		return nil, err
	}

	it, err := iterator.New(config.Iterator, jobInterface, iterator.Options{
		ExperimentName: config.ExperimentName,
		OutputDir:      config.OutputDir,
		ParameterNames: config.Interface.Parameters,
	})
	if err != nil {
		return nil, err
	}

	checker := health.NewMultiChecker(health.Named("job store", health.CheckerFunc(func() error {
		return store.Health(ctx)
	})))
	ctx.Log.Infof("experiment set up with %d resources", len(resources))
	return &Experiment{
		config:       config,
		runId:        runId,
		store:        store,
		jobDb:        jobDb,
		schedulers:   schedulers,
		resources:    resources,
		jobInterface: jobInterface,
		iterator:     it,
		registry:     opts.Registry,
		checker:      checker,
	}, nil
}

func (e *Experiment) RunId() string {
	return e.runId
}

// Interface returns the job interface, e.g. to query job statuses after a run.
func (e *Experiment) Interface() *jobinterface.Interface {
	return e.jobInterface
}

// Run prepares every scheduler, runs the iterator to completion and tears the schedulers down again.
// While it runs, metrics are served if a port is configured and the job status is reported periodically.
func (e *Experiment) Run(ctx *uqcontext.Context) (err error) {
	ctx = uqcontext.WithLogFields(ctx, logrus.Fields{"experiment": e.config.ExperimentName, "runId": e.runId})
	started := time.Now()

	for _, s := range e.schedulers {
		if err := s.PreRun(ctx); err != nil {
			return errors.WithMessagef(err, "preparing %s scheduler", s.Backend())
		}
	}
	defer func() {
		for _, s := range e.schedulers {
			if postErr := s.PostRun(ctx); postErr != nil {
				ctx.Log.WithError(postErr).Warnf("tearing down %s scheduler", s.Backend())
			}
		}
	}()

	taskManager := task.NewBackgroundTaskManager(ctx, "uq_", e.registry)
	if interval := e.config.Polling.StatusReportInterval; interval > 0 {
		taskManager.Register(e.jobInterface.LogStatus, interval, "status_report")
	}
	defer func() {
		if taskManager.StopAll(taskShutdownTimeout) {
			ctx.Log.Warn("background tasks did not stop in time")
		}
	}()

	g, gctx := uqcontext.ErrGroup(ctx)
	runCtx, cancel := uqcontext.WithCancel(gctx)
	if port := e.config.Metrics.Port; port > 0 {
		g.Go(func() error {
			return metrics.Serve(runCtx, port, metrics.NewHandler(e.registry, e.checker))
		})
	}
	g.Go(func() error {
		defer cancel()
		return iterator.Run(runCtx, e.iterator)
	})
	if err := g.Wait(); err != nil {
		return err
	}
	ctx.Log.Infof("experiment finished in %s", time.Since(started).Round(time.Millisecond))
	return nil
}

func (e *Experiment) Close() error {
	return e.store.Close()
}
