package scheduler

import (
	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
)

// directLauncher runs jobs in the foreground, locally or over ssh. Submission returns once the job has
// finished, so there is nothing left to poll.
type directLauncher struct {
	driver *driver.Driver
}

func newDirectLauncher(_ *uqcontext.Context, _ Config, d *driver.Driver, _ Options) (launcher, error) {
	return &directLauncher{driver: d}, nil
}

func (l *directLauncher) launch(ctx *uqcontext.Context, j *job.Job) error {
	return l.driver.RunJob(ctx, j)
}

func (l *directLauncher) poll(ctx *uqcontext.Context, j *job.Job) {
	ctx.Log.Warnf("job is %s after a foreground run", j.Status)
}

func (l *directLauncher) alive(*uqcontext.Context, *job.Job) bool {
	return false
}
