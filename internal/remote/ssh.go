package remote

import (
	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/common/uqerrors"
)

// ssh exits with 255 when the connection itself failed.
const sshConnectionFailure = 255

// SSHTransport runs commands on a remote host through the ssh and scp clients installed locally.
// Authentication is left to the user's ssh configuration (keys, agent, ~/.ssh/config).
type SSHTransport struct {
	host string
	// Passed to both ssh and scp, so only -o style options are portable.
	options  []string
	executor Executor
}

func NewSSHTransport(host string, options []string, executor Executor) *SSHTransport {
	return &SSHTransport{
		host:     host,
		options:  options,
		executor: executor,
	}
}

func (t *SSHTransport) Host() string {
	return t.host
}

// Run executes cmd on the remote host. Output files and the terminate pattern of cmd apply to the
// local ssh process, so logs are mirrored locally.
func (t *SSHTransport) Run(ctx *uqcontext.Context, cmd *Command) (*Result, error) {
	ssh := NewCommand("ssh").Arg(t.options...).Arg(t.host, cmd.ShellLine())
	ssh.StdoutFile = cmd.StdoutFile
	ssh.StderrFile = cmd.StderrFile
	ssh.TerminateOn = cmd.TerminateOn
	ctx.Log.Debugf("running on %s: %s", t.host, cmd.ShellLine())
	return t.executor.Run(ctx, ssh)
}

func (t *SSHTransport) CopyTo(ctx *uqcontext.Context, localSrc string, dst string) error {
	scp := NewCommand("scp", "-r").Arg(t.options...).Arg(localSrc, t.host+":"+dst)
	return t.runLocal(ctx, scp)
}

func (t *SSHTransport) CopyFrom(ctx *uqcontext.Context, src string, localDst string) error {
	scp := NewCommand("scp", "-r").Arg(t.options...).Arg(t.host+":"+src, localDst)
	return t.runLocal(ctx, scp)
}

func (t *SSHTransport) MakeDir(ctx *uqcontext.Context, dir string) error {
	_, err := RunChecked(ctx, t, NewCommand("mkdir", "-p", dir))
	return err
}

func (t *SSHTransport) FileExists(ctx *uqcontext.Context, path string) (bool, error) {
	cmd := NewCommand("test", "-e", path)
	result, err := t.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	switch result.ExitCode {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, CheckResult(t.host, cmd, result)
	}
}

func (t *SSHTransport) ReadFile(ctx *uqcontext.Context, path string) ([]byte, error) {
	result, err := RunChecked(ctx, t, NewCommand("cat", path))
	if err != nil {
		return nil, err
	}
	return []byte(result.Stdout), nil
}

func (t *SSHTransport) RemoveFile(ctx *uqcontext.Context, path string) error {
	_, err := RunChecked(ctx, t, NewCommand("rm", "-f", path))
	return err
}

// runLocal runs scp, which executes locally but talks to the remote host, so stderr is fatal.
func (t *SSHTransport) runLocal(ctx *uqcontext.Context, cmd *Command) error {
	result, err := t.executor.Run(ctx, cmd)
	if err != nil {
		return err
	}
	if err := CheckResult(t.host, cmd, result); err != nil {
		return err
	}
	return nil
}

// IsConnectionFailure reports whether err is an ssh connection failure rather than a failure of the
// command that ran remotely.
func IsConnectionFailure(err error) bool {
	var e *uqerrors.ErrRemoteCommand
	return errors.As(err, &e) && e.Host != "" && e.ExitCode == sshConnectionFailure
}
