package uqctl

import (
	"fmt"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/uqdispatch/uqdispatch/internal/scheduler"
	"github.com/uqdispatch/uqdispatch/internal/uqctl/build"
)

// Version prints build information and the scheduler backends this binary supports.
func (a *App) Version() error {
	backends := make([]string, len(scheduler.AllBackends))
	for i, b := range scheduler.AllBackends {
		backends[i] = string(b)
	}
	w := tabwriter.NewWriter(a.Out, 1, 1, 1, ' ', 0)
	fmt.Fprintf(w, "Version:\t%s\n", build.ReleaseVersion)
	fmt.Fprintf(w, "Commit:\t%s (built %s)\n", build.GitCommit, build.BuildTime)
	fmt.Fprintf(w, "Go:\t%s %s/%s\n", build.GoVersion, runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "Schedulers:\t%s\n", strings.Join(backends, ", "))
	return w.Flush()
}
