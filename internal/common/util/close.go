package util

import (
	"io"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

// CloseResource closes c and logs, rather than returns, any failure. Used on cleanup paths
// where an earlier error is already being returned.
func CloseResource(ctx *uqcontext.Context, name string, c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		ctx.Log.WithError(err).WithField("resource", name).Warn("failed to close cleanly")
		return
	}
	ctx.Log.WithField("resource", name).Debug("closed")
}
