package fake

import (
	"strings"
	"sync"

	"github.com/uqdispatch/uqdispatch/internal/common/uqcontext"
	"github.com/uqdispatch/uqdispatch/internal/remote"
)

// Handler decides the outcome of one command. Returning a nil Result means success with no output.
type Handler func(cmd *remote.Command) (*remote.Result, error)

// Executor records every command and answers with the first handler whose pattern occurs in the
// command line. Commands matching no handler succeed with empty output.
type Executor struct {
	lock     sync.Mutex
	commands []*remote.Command
	patterns []string
	handlers []Handler
}

func NewExecutor() *Executor {
	return &Executor{}
}

// On registers handler for command lines that contain pattern, e.g. "sbatch" or "squeue".
// Handlers registered first take precedence.
func (e *Executor) On(pattern string, handler Handler) *Executor {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.patterns = append(e.patterns, pattern)
	e.handlers = append(e.handlers, handler)
	return e
}

// Respond is a shorthand for a handler that always returns the given output.
func Respond(exitCode int, stdout string, stderr string) Handler {
	return func(*remote.Command) (*remote.Result, error) {
		return &remote.Result{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}, nil
	}
}

// Sequence answers with the given handlers in turn, repeating the last one once exhausted.
func Sequence(handlers ...Handler) Handler {
	lock := sync.Mutex{}
	calls := 0
	return func(cmd *remote.Command) (*remote.Result, error) {
		lock.Lock()
		h := handlers[len(handlers)-1]
		if calls < len(handlers) {
			h = handlers[calls]
		}
		calls++
		lock.Unlock()
		return h(cmd)
	}
}

func (e *Executor) Run(_ *uqcontext.Context, cmd *remote.Command) (*remote.Result, error) {
	e.lock.Lock()
	e.commands = append(e.commands, cmd)
	line := cmd.ShellLine()
	var handler Handler
	for i, pattern := range e.patterns {
		if strings.Contains(line, pattern) {
			handler = e.handlers[i]
			break
		}
	}
	e.lock.Unlock()

	if handler == nil {
		return &remote.Result{}, nil
	}
	result, err := handler(cmd)
	if result == nil && err == nil {
		result = &remote.Result{}
	}
	return result, err
}

// Commands returns the shell lines of all commands run so far.
func (e *Executor) Commands() []string {
	e.lock.Lock()
	defer e.lock.Unlock()
	lines := make([]string, len(e.commands))
	for i, c := range e.commands {
		lines[i] = c.ShellLine()
	}
	return lines
}

// CommandsContaining returns the shell lines that contain s.
func (e *Executor) CommandsContaining(s string) []string {
	matching := []string{}
	for _, line := range e.Commands() {
		if strings.Contains(line, s) {
			matching = append(matching, line)
		}
	}
	return matching
}
