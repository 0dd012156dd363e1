package scheduler

import (
	"fmt"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

// detachedLauncher starts jobs under nohup and waits for their control file.
type detachedLauncher struct {
	driver   *driver.Driver
	sentinel *sentinelWatcher
}

func newDetachedLauncher(_ *uqcontext.Context, config Config, d *driver.Driver, opts Options) (launcher, error) {
	return &detachedLauncher{
		driver: d,
		sentinel: &sentinelWatcher{
			driver:    d,
			transport: d.Transport(),
			clock:     opts.Clock,
			timeout:   config.SentinelTimeout,
		},
	}, nil
}

func (l *detachedLauncher) launch(ctx *uqcontext.Context, j *job.Job) error {
	pid, err := l.driver.StartDetached(ctx, j)
	if err != nil {
		return err
	}
	j.ProcessId = pid
	ctx.Log.Infof("started process %s", pid)
	return nil
}

func (l *detachedLauncher) poll(ctx *uqcontext.Context, j *job.Job) {
	if l.sentinel.check(ctx, j) {
		return
	}
	if l.sentinel.expired(j.StartTime) {
		l.sentinel.fail(ctx, j, fmt.Sprintf("no control file %s after %s", l.driver.Paths(j).ControlFile, l.sentinel.timeout))
	}
}

func (l *detachedLauncher) alive(ctx *uqcontext.Context, j *job.Job) bool {
	result, err := l.driver.Transport().Run(ctx, remote.NewCommand("kill", "-0", j.ProcessId))
	if err != nil {
		ctx.Log.WithError(err).Warnf("could not check process %s", j.ProcessId)
		return true
	}
	return result.ExitCode == 0
}
