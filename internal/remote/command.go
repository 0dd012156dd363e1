package remote

import (
	"regexp"
	"strings"
)

// Command is a program invocation kept as an argument list until the moment it has to become a shell
// line (for ssh or a job script), so that quoting happens in exactly one place.
type Command struct {
	Name string
	Args []string
	// Working directory on the host that runs the command.
	Dir string
	// Local files that receive a copy of the output streams. Stdout is not kept in Result.Stdout
	// when StdoutFile is set.
	StdoutFile string
	StderrFile string
	// If set, the process is killed as soon as a line of its stdout matches.
	TerminateOn *regexp.Regexp
}

func NewCommand(name string, args ...string) *Command {
	return &Command{
		Name: name,
		Args: append([]string{}, args...),
	}
}

// Arg appends arguments. Empty strings are dropped so that unset optional segments never produce
// stray empty arguments.
func (c *Command) Arg(args ...string) *Command {
	for _, a := range args {
		if a != "" {
			c.Args = append(c.Args, a)
		}
	}
	return c
}

// OptionalArg appends flag followed by value, or nothing at all if value is empty.
func (c *Command) OptionalArg(flag string, value string) *Command {
	if value == "" {
		return c
	}
	return c.Arg(flag, value)
}

func (c *Command) InDir(dir string) *Command {
	c.Dir = dir
	return c
}

func (c *Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the command as a single shell-quoted line, without the working directory.
func (c *Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, a := range c.Argv() {
		parts = append(parts, Quote(a))
	}
	return strings.Join(parts, " ")
}

// ShellLine renders the command prefixed by a cd into its working directory, if any.
func (c *Command) ShellLine() string {
	if c.Dir == "" {
		return c.String()
	}
	return "cd " + Quote(c.Dir) + " && " + c.String()
}

var safeShellWord = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./-]+$`)

// Quote returns s in a form the shell reads back as a single word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeShellWord.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, `'`, `'"'"'`) + "'"
}
