package jobinterface

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/jobdb"
	"github.com/uqdispatch/uqdispatch/internal/jobstore"
	"github.com/uqdispatch/uqdispatch/internal/resource"
)

// Observer is told about finished jobs and evaluations.
type Observer interface {
	ObserveJobDuration(j *job.Job)
	ObserveEvaluation()
}

type noopObserver struct{}

func (noopObserver) ObserveJobDuration(*job.Job) {}
func (noopObserver) ObserveEvaluation()          {}

// Output holds one row per sample, in sample order.
type Output struct {
	Result [][]float64
	// Nil unless gradients were requested.
	Gradient [][]float64
	// Rows whose job did not complete and hold the placeholder.
	Failed []bool
}

// Interface maps a matrix of samples to model outputs by running one job per sample.
//
// The job table is the working copy of every job and the store mirrors it, so that statuses survive
// the process and a restarted run can pick up completed jobs. Jobs are numbered 1..n within each batch
// and each call to Evaluate is a new batch.
type Interface struct {
	config         Config
	experimentName string
	// Experiment directory on the executing host.
	experimentDir string
	driverName    string
	resources     []*resource.Resource
	jobDb         *jobdb.JobDb
	repository    *jobstore.JobRepository
	clock         util.Clock
	observer      Observer

	mu    sync.Mutex
	batch int
}

type Options struct {
	ExperimentName string
	ExperimentDir  string
	DriverName     string
	Clock          util.Clock
	Observer       Observer
}

func New(config Config, resources []*resource.Resource, jobDb *jobdb.JobDb, repository *jobstore.JobRepository, opts Options) (*Interface, error) {
	if len(resources) == 0 {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "resources",
			Value:   resources,
			Message: "at least one resource is required",
		})
	}
	if len(config.Parameters) == 0 {
		return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
			Name:    "interface.parameters",
			Value:   config.Parameters,
			Message: "at least one parameter is required",
		})
	}
	if opts.Clock == nil {
		opts.Clock = &util.DefaultClock{}
	}
	if opts.Observer == nil {
		opts.Observer = noopObserver{}
	}
	return &Interface{
		config:         config,
		experimentName: opts.ExperimentName,
		experimentDir:  opts.ExperimentDir,
		driverName:     opts.DriverName,
		resources:      resources,
		jobDb:          jobDb,
		repository:     repository,
		clock:          opts.Clock,
		observer:       opts.Observer,
	}, nil
}

// Batch returns the number of the most recent batch, or 0 before the first evaluation.
func (i *Interface) Batch() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.batch
}

func (i *Interface) nextBatch() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.batch++
	return i.batch
}

// Evaluate runs one job per row of samples and returns the outputs in row order. It returns once every
// job has reached a terminal state. Rows of failed or broken jobs hold the placeholder value. An error
// is returned only if the batch as a whole could not be run: invalid samples, a job whose files could
// not be prepared, or an unusable store.
func (i *Interface) Evaluate(ctx *uqcontext.Context, samples [][]float64) (*Output, error) {
	for row, sample := range samples {
		if len(sample) != len(i.config.Parameters) {
			return nil, errors.WithStack(&uqerrors.ErrInvalidArgument{
				Name:    "samples",
				Value:   sample,
				Message: errors.Errorf("row %d has %d values for %d parameters", row, len(sample), len(i.config.Parameters)).Error(),
			})
		}
	}
	batch := i.nextBatch()
	ctx = uqcontext.WithLogField(ctx, "batch", batch)
	ctx.Log.Infof("evaluating %d samples", len(samples))

	jobs, err := i.createJobs(ctx, batch, samples)
	if err != nil {
		return nil, err
	}
	toDispatch := make([]*job.Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == job.New {
			toDispatch = append(toDispatch, j)
		}
	}
	if reused := len(jobs) - len(toDispatch); reused > 0 {
		ctx.Log.Infof("reusing %d completed jobs", reused)
	}

	g, gctx := uqcontext.ErrGroup(ctx)
	g.Go(func() error {
		return i.dispatch(gctx, toDispatch)
	})
	g.Go(func() error {
		return i.waitForCompletion(gctx, batch)
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	i.observer.ObserveEvaluation()
	return i.collectOutput(batch)
}

// createJobs numbers the samples 1..n and records them in the job table and the store.
func (i *Interface) createJobs(ctx *uqcontext.Context, batch int, samples [][]float64) ([]*job.Job, error) {
	stored := map[int]*job.Job{}
	if i.config.Restart {
		previous, err := i.repository.LoadJobs(ctx, batch)
		if err != nil {
			return nil, err
		}
		for _, j := range previous {
			stored[j.Id] = j
		}
	}

	now := i.clock.Now()
	jobs := make([]*job.Job, len(samples))
	for row, sample := range samples {
		params := make(map[string]float64, len(sample))
		for col, name := range i.config.Parameters {
			params[name] = sample[col]
		}
		j := job.NewJob(row+1, batch, params, now)
		j.ExperimentName = i.experimentName
		j.ExperimentDir = i.experimentDir
		j.DriverName = i.driverName
		if previous, ok := stored[j.Id]; ok && previous.HasResult() && previous.SameParams(j) {
			j = previous
		}
		jobs[row] = j
	}

	txn := i.jobDb.WriteTxn()
	if err := i.jobDb.Upsert(txn, jobs...); err != nil {
		txn.Abort()
		return nil, err
	}
	txn.Commit()
	// No job of the new batch holds a slot yet. This reclaims slots left behind by an evaluation that
	// was aborted while its jobs were pending.
	for _, r := range i.resources {
		r.Sync(jobs)
	}
	for _, j := range jobs {
		if err := i.repository.SaveJob(ctx, j); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

// dispatch submits every job, waiting for a free resource slot before each. Jobs whose files cannot be
// prepared stop the dispatch; their errors are returned together.
func (i *Interface) dispatch(ctx *uqcontext.Context, jobs []*job.Job) error {
	dispatchCtx, cancel := uqcontext.WithCancel(ctx)
	defer cancel()

	mu := sync.Mutex{}
	var result *multierror.Error
	fail := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		result = multierror.Append(result, err)
		cancel()
	}

	util.ProcessItemsWithThreadPool(dispatchCtx, i.config.submissionThreads(), jobs, func(j *job.Job) {
		r, err := i.acquire(dispatchCtx)
		if err != nil {
			return
		}
		jobCtx := uqcontext.WithLogFields(dispatchCtx, logrus.Fields{"jobId": j.Id, "resource": r.Name()})
		submitted, err := r.AttemptDispatch(jobCtx, j)
		if err != nil {
			fail(err)
			return
		}
		if err := i.record(jobCtx, submitted); err != nil {
			fail(err)
		}
	})

	mu.Lock()
	defer mu.Unlock()
	if result != nil {
		return result.ErrorOrNil()
	}
	return ctx.Err()
}

// acquire waits until one of the resources has a free slot and takes it.
func (i *Interface) acquire(ctx *uqcontext.Context) (*resource.Resource, error) {
	for {
		for _, r := range i.resources {
			if r.TryAcquire() {
				return r, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(i.config.pollingInterval()):
		}
	}
}

// record writes a job to the job table and the store.
func (i *Interface) record(ctx *uqcontext.Context, j *job.Job) error {
	txn := i.jobDb.WriteTxn()
	if err := i.jobDb.Upsert(txn, j); err != nil {
		txn.Abort()
		return err
	}
	txn.Commit()
	if j.InTerminalState() {
		i.observer.ObserveJobDuration(j)
	}
	return i.repository.SaveJob(ctx, j)
}

// waitForCompletion polls until every job of the batch is terminal. Jobs still waiting for a slot count
// as unfinished, so this cannot return before dispatch has handed out every job.
func (i *Interface) waitForCompletion(ctx *uqcontext.Context, batch int) error {
	for {
		remaining, err := i.PollOnce(ctx, batch)
		if err != nil {
			return err
		}
		if remaining == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.config.pollingInterval()):
		}
	}
}

// PollOnce checks every pending job of a batch once and returns how many jobs are not yet terminal.
func (i *Interface) PollOnce(ctx *uqcontext.Context, batch int) (int, error) {
	unfinished, err := i.jobDb.GetUnfinished(i.jobDb.ReadTxn(), batch)
	if err != nil {
		return 0, err
	}
	remaining := 0
	for _, j := range unfinished {
		if j.Status != job.Pending {
			remaining++
			continue
		}
		r, ok := resource.Find(i.resources, j.Resource)
		if !ok {
			return 0, errors.WithStack(&uqerrors.ErrNotFound{Type: "resource", Value: j.Resource, Message: "job " + j.Key()})
		}
		polled := j.DeepCopy()
		completed, _ := r.PollCompletion(uqcontext.WithLogField(ctx, "jobId", j.Id), polled)
		if !completed {
			remaining++
			continue
		}
		if err := i.record(ctx, polled); err != nil {
			return 0, err
		}
	}
	return remaining, nil
}

func (i *Interface) collectOutput(batch int) (*Output, error) {
	jobs, err := i.jobDb.GetBatch(i.jobDb.ReadTxn(), batch)
	if err != nil {
		return nil, err
	}
	// Completion order is arbitrary; rows follow job ids.
	slices.SortFunc(jobs, func(a, b *job.Job) bool { return a.Id < b.Id })

	resultWidth, gradientWidth := 1, 0
	for _, j := range jobs {
		if j.HasResult() {
			resultWidth = len(j.Result)
			gradientWidth = len(j.Gradient)
			break
		}
	}
	output := &Output{Result: make([][]float64, len(jobs)), Failed: make([]bool, len(jobs))}
	if i.config.Gradient {
		output.Gradient = make([][]float64, len(jobs))
	}
	for row, j := range jobs {
		if j.HasResult() {
			output.Result[row] = slices.Clone(j.Result)
		} else {
			output.Result[row] = i.placeholderRow(resultWidth)
			output.Failed[row] = true
		}
		if !i.config.Gradient {
			continue
		}
		if j.HasResult() && j.Gradient != nil {
			output.Gradient[row] = slices.Clone(j.Gradient)
		} else {
			output.Gradient[row] = i.placeholderRow(gradientWidth)
		}
	}
	return output, nil
}

func (i *Interface) placeholderRow(width int) []float64 {
	row := make([]float64, width)
	for k := range row {
		row[k] = i.config.placeholder()
	}
	return row
}

// JobStatuses reads the statuses of a batch back from the store, in job id order.
func (i *Interface) JobStatuses(ctx *uqcontext.Context, batch int) ([]job.Status, error) {
	jobs, err := i.repository.LoadJobs(ctx, batch)
	if err != nil {
		return nil, err
	}
	statuses := make([]job.Status, len(jobs))
	for k, j := range jobs {
		statuses[k] = j.Status
	}
	return statuses, nil
}

// LogStatus logs the number of jobs per status of the current batch for every resource.
func (i *Interface) LogStatus(ctx *uqcontext.Context) {
	jobs, err := i.jobDb.GetBatch(i.jobDb.ReadTxn(), i.Batch())
	if err != nil {
		ctx.Log.WithError(err).Warn("could not read job table")
		return
	}
	counts := map[string]map[job.Status]int{}
	for _, r := range i.resources {
		counts[r.Name()] = map[job.Status]int{}
	}
	for _, j := range jobs {
		if _, ok := counts[j.Resource]; !ok {
			counts[j.Resource] = map[job.Status]int{}
		}
		counts[j.Resource][j.Status]++
	}
	names := maps.Keys(counts)
	slices.Sort(names)
	for _, name := range names {
		fields := logrus.Fields{"resource": name}
		for _, status := range job.AllStatuses {
			fields[string(status)] = counts[name][status]
		}
		ctx.Log.WithFields(fields).Info("job status")
	}
}
