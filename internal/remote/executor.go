package remote

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"os/exec"

	"github.com/pkg/errors"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
)

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	// True if the process was killed because its output matched Command.TerminateOn.
	Terminated bool
}

// Executor runs a command on the local machine and waits for it to exit. A non-zero exit is reported
// in the Result; an error means the command could not be run at all.
type Executor interface {
	Run(ctx *uqcontext.Context, cmd *Command) (*Result, error)
}

// ProcessExecutor is the Executor backed by os/exec.
type ProcessExecutor struct{}

func (e *ProcessExecutor) Run(ctx *uqcontext.Context, cmd *Command) (*Result, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	stdoutWriter := io.Writer(stdout)
	stderrWriter := io.Writer(stderr)
	if cmd.StdoutFile != "" {
		f, err := os.Create(cmd.StdoutFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer f.Close()
		stdoutWriter = f
	}
	if cmd.StderrFile != "" {
		f, err := os.Create(cmd.StderrFile)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		defer f.Close()
		stderrWriter = io.MultiWriter(stderr, f)
	}
	c.Stderr = stderrWriter

	result := &Result{}
	if cmd.TerminateOn == nil {
		c.Stdout = stdoutWriter
		if err := c.Start(); err != nil {
			return nil, errors.Wrapf(err, "could not start %s", cmd.Name)
		}
	} else {
		pipe, err := c.StdoutPipe()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if err := c.Start(); err != nil {
			return nil, errors.Wrapf(err, "could not start %s", cmd.Name)
		}
		scanner := bufio.NewScanner(pipe)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			_, _ = stdoutWriter.Write(append(line, '\n'))
			if !result.Terminated && cmd.TerminateOn.Match(line) {
				ctx.Log.Warnf("output of %s matched %q, terminating", cmd.Name, cmd.TerminateOn.String())
				result.Terminated = true
				_ = c.Process.Kill()
			}
		}
		// Drain whatever is left so that Wait does not block on a full pipe.
		_, _ = io.Copy(io.Discard, pipe)
	}

	err := c.Wait()
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.WithStack(err)
		}
		result.ExitCode = exitErr.ExitCode()
	}
	if result.Terminated && result.ExitCode == 0 {
		result.ExitCode = -1
	}
	return result, nil
}
