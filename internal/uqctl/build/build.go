package build

import "runtime"

// Set at link time with -ldflags "-X github.com/uqdispatch/uqdispatch/internal/uqctl/build.ReleaseVersion=...".
var (
	ReleaseVersion = "dev"
	GitCommit      = "none"
	BuildTime      = "unknown"
	GoVersion      = runtime.Version()
)
