package remote

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

// Transport runs commands and moves files on the host that executes jobs.
// Paths passed to its methods are paths on that host, except for the local side of a copy.
type Transport interface {
	// Host returns the remote host, or "" for the local machine.
	Host() string
	Run(ctx *uqcontext.Context, cmd *Command) (*Result, error)
	CopyTo(ctx *uqcontext.Context, localSrc string, dst string) error
	CopyFrom(ctx *uqcontext.Context, src string, localDst string) error
	MakeDir(ctx *uqcontext.Context, dir string) error
	FileExists(ctx *uqcontext.Context, path string) (bool, error)
	ReadFile(ctx *uqcontext.Context, path string) ([]byte, error)
	// RemoveFile succeeds if the file does not exist.
	RemoveFile(ctx *uqcontext.Context, path string) error
}

// CheckResult turns a failed command into an *uqerrors.ErrRemoteCommand. A non-zero exit code is always
// a failure; for commands run on a remote host any output on stderr is one too.
func CheckResult(host string, cmd *Command, result *Result) error {
	stderr := strings.TrimSpace(result.Stderr)
	if result.ExitCode == 0 && (host == "" || stderr == "") {
		return nil
	}
	return errors.WithStack(&uqerrors.ErrRemoteCommand{
		Host:     host,
		Command:  cmd.ShellLine(),
		ExitCode: result.ExitCode,
		Stderr:   stderr,
	})
}

// RunChecked runs cmd and applies CheckResult.
func RunChecked(ctx *uqcontext.Context, t Transport, cmd *Command) (*Result, error) {
	result, err := t.Run(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if err := CheckResult(t.Host(), cmd, result); err != nil {
		return result, err
	}
	return result, nil
}

// DetachedOutput names the files, on the transport's host, a detached command writes to.
type DetachedOutput struct {
	Stdout string
	Stderr string
	// Receives the exit code of the command once it finishes.
	Sentinel string
}

// Start launches cmd in the background under nohup and returns its process id without waiting for it.
// When the command exits, its exit code is written to output.Sentinel.
func Start(ctx *uqcontext.Context, t Transport, cmd *Command, output DetachedOutput) (string, error) {
	inner := cmd.String() + "; echo $? > " + Quote(output.Sentinel)
	line := "nohup sh -c " + Quote(inner) +
		" > " + Quote(output.Stdout) +
		" 2> " + Quote(output.Stderr) +
		" < /dev/null & echo $!"
	launcher := NewCommand("sh", "-c", line).InDir(cmd.Dir)
	result, err := RunChecked(ctx, t, launcher)
	if err != nil {
		return "", err
	}
	pid := strings.TrimSpace(result.Stdout)
	if pid == "" {
		return "", errors.Errorf("no process id reported for %s", cmd.Name)
	}
	return pid, nil
}
