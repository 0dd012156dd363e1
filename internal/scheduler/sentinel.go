package scheduler

import (
	"fmt"
	"time"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/util"
	"github.com/uqdispatch/uqdispatch/internal/driver"
	"github.com/uqdispatch/uqdispatch/internal/job"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

// sentinelWatcher finishes jobs once their control file appears. The control file is the only
// evidence of completion that is trusted; a process or queue entry that has gone away may still be
// writing output.
type sentinelWatcher struct {
	driver    *driver.Driver
	transport remote.Transport
	clock     util.Clock
	timeout   time.Duration
}

// check returns true if it moved j to a terminal state.
func (w *sentinelWatcher) check(ctx *uqcontext.Context, j *job.Job) bool {
	exists, err := w.transport.FileExists(ctx, w.driver.Paths(j).ControlFile)
	if err != nil {
		ctx.Log.WithError(err).Warn("could not check for control file")
		return false
	}
	if !exists {
		return false
	}
	code, err := w.driver.SentinelExitCode(ctx, j)
	if err != nil {
		ctx.Log.WithError(err).Warn("could not read control file")
		return false
	}
	if code != 0 {
		ctx.Log.Infof("job exited with code %d", code)
		w.fail(ctx, j, fmt.Sprintf("exited with code %d", code))
		return true
	}
	if err := w.driver.Finish(ctx, j); err != nil {
		ctx.Log.WithError(err).Error("could not complete job")
		return false
	}
	return true
}

// expired reports whether the control file has been missing for longer than the timeout since t.
func (w *sentinelWatcher) expired(t time.Time) bool {
	return w.timeout > 0 && w.clock.Now().Sub(t) > w.timeout
}

func (w *sentinelWatcher) fail(ctx *uqcontext.Context, j *job.Job, reason string) {
	if err := j.MarkFailed(reason, w.clock.Now()); err != nil {
		ctx.Log.WithError(err).Error("could not fail job")
	}
}
