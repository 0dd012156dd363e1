package resource

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/slices"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

// Scheduler is the part of scheduler.Scheduler a Resource dispatches to.
type Scheduler interface {
	Submit(ctx *uqcontext.Context, j *job.Job) (*job.Job, error)
	PollCompletion(ctx *uqcontext.Context, j *job.Job) (completed bool, failed bool)
}

// Resource is a compute target bound to one scheduler for its whole life. It admits at most
// maxConcurrent unfinished jobs at a time; zero means no limit.
type Resource struct {
	name          string
	scheduler     Scheduler
	maxConcurrent int

	mu       sync.Mutex
	inFlight int
}

func New(name string, scheduler Scheduler, maxConcurrent int) *Resource {
	return &Resource{
		name:          name,
		scheduler:     scheduler,
		maxConcurrent: maxConcurrent,
	}
}

func (r *Resource) Name() string {
	return r.name
}

func (r *Resource) MaxConcurrent() int {
	return r.maxConcurrent
}

// InFlight is the number of dispatched jobs that have not yet been released.
func (r *Resource) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight
}

// AcceptingJobs reports whether a slot is free right now. Another dispatcher may take the slot before
// the caller does, so dispatch through TryAcquire or AttemptDispatch.
func (r *Resource) AcceptingJobs() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasCapacity()
}

func (r *Resource) hasCapacity() bool {
	return r.maxConcurrent <= 0 || r.inFlight < r.maxConcurrent
}

// TryAcquire takes a slot if one is free.
func (r *Resource) TryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.hasCapacity() {
		return false
	}
	r.inFlight++
	return true
}

// Release frees a slot once a job has reached a terminal state.
func (r *Resource) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight > 0 {
		r.inFlight--
	}
}

// Sync resets the slot count to the jobs of this resource that are still pending, e.g. after jobs
// have been recovered from the store.
func (r *Resource) Sync(jobs []*job.Job) {
	pending := 0
	for _, j := range jobs {
		if j.Resource == r.name && !j.InTerminalState() {
			pending++
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = pending
}

// AttemptDispatch submits a copy of j, which must hold a slot of this resource, and returns the
// submitted job. j itself is left untouched, as it may be shared through the job table. The slot is
// released straight away if the job comes back terminal, as foreground runs and broken submissions do,
// or if submission fails.
func (r *Resource) AttemptDispatch(ctx *uqcontext.Context, j *job.Job) (*job.Job, error) {
	dispatched := j.DeepCopy()
	dispatched.Resource = r.name
	submitted, err := r.scheduler.Submit(ctx, dispatched)
	if err != nil {
		r.Release()
		return nil, err
	}
	if submitted.InTerminalState() {
		r.Release()
	}
	ctx.Log.WithFields(logrus.Fields{"resource": r.name, "batch": j.Batch, "jobId": j.Id}).Debugf("job is %s", submitted.Status)
	return submitted, nil
}

// PollCompletion checks a pending job of this resource once and frees its slot when it has finished.
func (r *Resource) PollCompletion(ctx *uqcontext.Context, j *job.Job) (completed bool, failed bool) {
	wasTerminal := j.InTerminalState()
	completed, failed = r.scheduler.PollCompletion(ctx, j)
	if completed && !wasTerminal {
		r.Release()
	}
	return completed, failed
}

// Find returns the resource with the given name.
func Find(resources []*Resource, name string) (*Resource, bool) {
	i := slices.IndexFunc(resources, func(r *Resource) bool { return r.name == name })
	if i < 0 {
		return nil, false
	}
	return resources[i], true
}
